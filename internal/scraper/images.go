package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/maltedev/listing-scraper/internal/models"
)

// DefaultMaxImageBytes is the size ceiling for one downloaded photo.
const DefaultMaxImageBytes = 5 * 1024 * 1024

// ImageFetcher downloads an image from inside the page context and returns
// it as a data URL.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string, maxBytes int64, timeout time.Duration) (string, error)
}

// ImageResolver turns photo URLs into PhotoRefs carrying the image payload.
type ImageResolver struct {
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger
}

func NewImageResolver(maxBytes int64, timeout time.Duration, logger *slog.Logger) *ImageResolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageResolver{
		maxBytes: maxBytes,
		timeout:  timeout,
		logger:   logger.With("component", "image_resolver"),
	}
}

// Resolve fetches each URL in order. A failed image keeps its URL and has no
// binary; it never fails the batch. Once ctx is done the remaining entries
// are returned URL-only.
func (r *ImageResolver) Resolve(ctx context.Context, fetcher ImageFetcher, urls []string) []models.PhotoRef {
	photos := make([]models.PhotoRef, 0, len(urls))

	for _, u := range urls {
		photo := models.PhotoRef{URL: u}

		if ctx.Err() == nil {
			mimeType, data, err := r.fetch(ctx, fetcher, u)
			if err != nil {
				r.logger.Warn("image download failed, keeping URL only", "url", u, "error", err)
			} else {
				photo.Binary = data
				photo.MimeType = mimeType
			}
		}

		photos = append(photos, photo)
	}

	return photos
}

func (r *ImageResolver) fetch(ctx context.Context, fetcher ImageFetcher, u string) (string, []byte, error) {
	dataURL, err := fetcher.FetchImage(ctx, u, r.maxBytes, r.timeout)
	if err != nil {
		return "", nil, err
	}

	mimeType, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > r.maxBytes {
		return "", nil, fmt.Errorf("image is %d bytes, limit is %d", len(data), r.maxBytes)
	}

	return mimeType, data, nil
}

// URLOnly wraps URLs in PhotoRefs without fetching anything.
func URLOnly(urls []string) []models.PhotoRef {
	photos := make([]models.PhotoRef, 0, len(urls))
	for _, u := range urls {
		photos = append(photos, models.PhotoRef{URL: u})
	}
	return photos
}

// DecodeDataURL splits a data URL into its MIME type and decoded payload.
// Both base64 and percent-encoded payloads are accepted.
func DecodeDataURL(raw string) (string, []byte, error) {
	if !strings.HasPrefix(raw, "data:") {
		return "", nil, errors.New("not a data URL")
	}

	du, err := dataurl.DecodeString(raw)
	if err != nil {
		return "", nil, fmt.Errorf("invalid data URL: %w", err)
	}
	return du.ContentType(), du.Data, nil
}
