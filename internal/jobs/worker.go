package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// Start runs workers until ctx is cancelled or the queue is closed. It
// blocks until every worker has returned.
func (m *Manager) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}

	m.logger.Info("job workers started", "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) worker(ctx context.Context, id int) {
	logger := m.logger.With("worker", id)

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				logger.Error("failed to pop task", "error", err)
			}
			return
		}

		m.processJob(ctx, task)
	}
}

// processJob runs one pipeline for task and records the outcome.
func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	logger := m.logger.With("job_id", task.JobID, "url", task.URL)

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.finish(task, nil, err)
			logger.Warn("job cancelled before start", "error", err)
			return
		}
	}

	now := time.Now()
	m.update(task.JobID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &now
	})
	logger.Info("processing job")

	listing, err := m.runner.Run(ctx, task.URL)

	if m.limiter != nil {
		switch {
		case err == nil:
			m.limiter.RecordSuccess()
		case scraper.KindOf(err) == scraper.KindBlockedBySource:
			if m.limiter.RecordError() {
				logger.Warn("source keeps blocking, slowing down sessions")
			}
		}
	}

	if err == nil && m.publisher != nil {
		if pubErr := m.publisher.PublishListingExtracted(ctx, task.JobID, listing); pubErr != nil {
			logger.Error("failed to publish listing", "error", pubErr)
		}
	}

	result := m.finish(task, listing, err)
	if err != nil {
		logger.Warn("job failed", "code", result.Error.Code, "needs_manual_input", result.NeedsManualInput)
		return
	}
	logger.Info("job completed", "title", listing.Title, "photos", len(listing.Photos))
}

// finish stores the result envelope and the terminal status.
func (m *Manager) finish(task *queue.Task, listing *models.ParsedListing, err error) *models.ScrapeResult {
	result := scraper.NewResult(task.URL, listing, err)
	now := time.Now()

	m.update(task.JobID, func(j *Job) {
		j.Result = result
		j.CompletedAt = &now
		if result.Success {
			j.Status = StatusCompleted
			return
		}
		j.Status = StatusFailed
		j.Error = result.Error.Message
	})

	return result
}
