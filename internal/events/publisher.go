package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/models"
)

type EventType string

const (
	// EventTypeListingExtracted is published once per successful extraction.
	EventTypeListingExtracted EventType = "LISTING_EXTRACTED"
)

const aggregateListing = "listing"

// ListingExtractedPayload is the hand-off to the persistence layer. Photo
// payloads are not embedded; consumers get URLs and MIME types only.
type ListingExtractedPayload struct {
	EventID   string                `json:"event_id"`
	EventType string                `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	JobID     string                `json:"job_id,omitempty"`
	Site      models.Site           `json:"site"`
	SourceURL string                `json:"source_url"`
	Listing   *models.ParsedListing `json:"listing"`
	Source    string                `json:"source"`
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// OutboxWriter inserts an event as part of a transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes events to the transactional outbox; the relay delivers
// them to Redis.
type Publisher struct {
	db     TxRunner
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db TxRunner, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishListingExtracted stores a LISTING_EXTRACTED event for listing.
func (p *Publisher) PublishListingExtracted(ctx context.Context, jobID string, listing *models.ParsedListing) error {
	payload := &ListingExtractedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeListingExtracted),
		Timestamp: time.Now(),
		JobID:     jobID,
		Site:      models.ClassifySite(listing.SourceURL),
		SourceURL: listing.SourceURL,
		Listing:   withoutBinaries(listing),
		Source:    "scraper",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateListing,
		AggregateID:   listing.SourceURL,
		EventType:     string(EventTypeListingExtracted),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"job_id", jobID,
		"url", listing.SourceURL,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}

func withoutBinaries(listing *models.ParsedListing) *models.ParsedListing {
	clone := *listing
	clone.Photos = make([]models.PhotoRef, len(listing.Photos))
	for i, photo := range listing.Photos {
		clone.Photos[i] = models.PhotoRef{URL: photo.URL, MimeType: photo.MimeType}
	}
	return &clone
}
