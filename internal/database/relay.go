package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the redis client used by the relay.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the subset of OutboxRepository used by the relay.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

var errIncompleteEvent = errors.New("event payload has no source_url or listing")

// listingEnvelope is the part of a LISTING_EXTRACTED payload the relay lifts
// into stream fields. The listing itself is forwarded untouched.
type listingEnvelope struct {
	EventID   string          `json:"event_id"`
	JobID     string          `json:"job_id"`
	Site      string          `json:"site"`
	SourceURL string          `json:"source_url"`
	Listing   json.RawMessage `json:"listing"`
}

// Relay delivers outbox rows to Redis streams, one stream entry per listing.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen trims each stream to roughly this many entries; 0 keeps
	// everything.
	StreamMaxLen int64
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start relays the backlog, then polls until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay started", "interval", r.interval, "batch_size", r.batchSize, "stream_max_len", r.maxLen)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain relays full batches back to back so a backlog does not wait for the
// next tick.
func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, err := r.relayBatch(ctx)
		if err != nil {
			r.logger.Error("outbox poll failed", "error", err)
			return
		}
		if fetched < r.batchSize {
			return
		}
	}
}

// relayBatch relays one batch and returns how many rows it fetched.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	failed := 0
	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			failed++
			r.logger.Warn("listing event not delivered",
				"outbox_id", event.ID,
				"url", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
		}
	}

	r.logger.Info("outbox batch relayed", "delivered", len(events)-failed, "failed", failed)
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	args, err := r.streamEntry(event)
	if err == nil {
		_, err = r.redis.XAdd(ctx, args).Result()
		if err != nil {
			err = fmt.Errorf("xadd %s: %w", event.TargetStream, err)
		}
	}

	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record delivery failure", "outbox_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		// the entry is already on the stream; a redelivery is a duplicate
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return nil
}

// streamEntry flattens a listing event into stream fields that consumers can
// filter on without decoding the listing.
func (r *Relay) streamEntry(event *OutboxEvent) (*redis.XAddArgs, error) {
	var envelope listingEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if envelope.SourceURL == "" || len(envelope.Listing) == 0 || string(envelope.Listing) == "null" {
		return nil, errIncompleteEvent
	}

	eventID := envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}

	values := map[string]interface{}{
		"event_id":     eventID,
		"event_type":   event.EventType,
		"site":         envelope.Site,
		"source_url":   envelope.SourceURL,
		"listing":      string(envelope.Listing),
		"outbox_id":    event.ID.String(),
		"extracted_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		"attempt":      strconv.Itoa(event.RetryCount + 1),
	}
	if envelope.JobID != "" {
		values["job_id"] = envelope.JobID
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return args, nil
}
