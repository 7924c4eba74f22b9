package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	DefaultListLimit = 100
	// finished jobs beyond this count are evicted oldest first
	maxRetainedJobs = 1000
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrEmptyURL    = errors.New("url is required")
)

// Runner runs one extraction pipeline.
type Runner interface {
	Run(ctx context.Context, rawURL string) (*models.ParsedListing, error)
}

// Publisher hands successful listings to the persistence layer.
type Publisher interface {
	PublishListingExtracted(ctx context.Context, jobID string, listing *models.ParsedListing) error
}

// Limiter paces sessions and adapts to blocks reported by the source.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	// RecordError reports whether the pacing was slowed down.
	RecordError() bool
}

// Job is an asynchronous extraction request.
type Job struct {
	ID          string               `json:"id"`
	URL         string               `json:"url"`
	Site        models.Site          `json:"site"`
	Status      Status               `json:"status"`
	Priority    int                  `json:"priority,omitempty"`
	Result      *models.ScrapeResult `json:"result,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func (j *Job) finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	QueueSize     int     `json:"queue_size"`
	SuccessRate   float64 `json:"success_rate"`
}

// Manager keeps the job registry in memory and feeds the worker pool
// through a queue.
type Manager struct {
	runner    Runner
	queue     queue.Queue
	limiter   Limiter
	publisher Publisher
	logger    *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewManager wires the job registry. publisher may be nil when no outbox is
// configured.
func NewManager(runner Runner, q queue.Queue, limiter Limiter, publisher Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		runner:    runner,
		queue:     q,
		limiter:   limiter,
		publisher: publisher,
		logger:    logger.With("component", "job_manager"),
		jobs:      make(map[string]*Job),
	}
}

// Submit registers a job for rawURL and queues it.
// Submit registers a job and queues it. Higher priorities are picked up
// first; equal priorities run in submission order.
func (m *Manager) Submit(ctx context.Context, rawURL string, priority int) (*Job, error) {
	if rawURL == "" {
		return nil, ErrEmptyURL
	}

	job := &Job{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Site:      models.ClassifySite(rawURL),
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.evictLocked()
	snapshot := *job
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{JobID: job.ID, URL: rawURL, Priority: priority, CreatedAt: job.CreatedAt}); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", rawURL, "site", job.Site, "priority", priority)
	return &snapshot, nil
}

// Get returns a snapshot of the job.
func (m *Manager) Get(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// List returns up to limit jobs, newest first.
func (m *Manager) List(ctx context.Context, limit int) []*Job {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

func (m *Manager) Stats(ctx context.Context) *Stats {
	stats := &Stats{QueueSize: m.queue.Size()}

	m.mu.RLock()
	for _, job := range m.jobs {
		stats.TotalJobs++
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}
	m.mu.RUnlock()

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}

	return stats
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}

// evictLocked drops the oldest finished jobs once the registry is over
// capacity. Pending and running jobs are never evicted.
func (m *Manager) evictLocked() {
	excess := len(m.jobs) - maxRetainedJobs
	if excess <= 0 {
		return
	}

	finished := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.finished() {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	for i := 0; i < excess && i < len(finished); i++ {
		delete(m.jobs, finished[i].ID)
	}
}
