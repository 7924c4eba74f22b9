package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

const adURL = "https://www.leboncoin.fr/ad/locations/2456789012"

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, rawURL string) (*models.ParsedListing, error) {
	args := m.Called(ctx, rawURL)
	listing, _ := args.Get(0).(*models.ParsedListing)
	return listing, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishListingExtracted(ctx context.Context, jobID string, listing *models.ParsedListing) error {
	args := m.Called(ctx, jobID, listing)
	return args.Error(0)
}

type fakeLimiter struct {
	mu        sync.Mutex
	waitErr   error
	waits     int
	successes int
	errors    int
	slowDown  bool
}

func (f *fakeLimiter) Wait(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return f.waitErr
}

func (f *fakeLimiter) RecordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeLimiter) RecordError() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors++
	return f.slowDown
}

func sampleListing() *models.ParsedListing {
	listing := models.NewParsedListing(adURL)
	listing.Title = "Appartement 3 pièces 45 m²"
	listing.Price = 850
	return listing
}

func blockedError() error {
	svc := scraper.NewService(nil, scraper.DefaultOptions(), slog.Default())
	_, err := svc.ParseHTML(adURL, "<html><body>Veuillez compléter le captcha</body></html>")
	return err
}

func newTestManager(runner Runner, limiter Limiter, publisher Publisher) (*Manager, *queue.InMemoryQueue) {
	q := queue.NewInMemoryQueue(10)
	return NewManager(runner, q, limiter, publisher, slog.Default()), q
}

func TestSubmit(t *testing.T) {
	m, q := newTestManager(new(MockRunner), nil, nil)

	job, err := m.Submit(context.Background(), adURL, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, models.SiteLeboncoin, job.Site)
	assert.Equal(t, 1, q.Size())

	got, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestSubmitPriority(t *testing.T) {
	m, q := newTestManager(new(MockRunner), nil, nil)
	ctx := context.Background()

	routine, err := m.Submit(ctx, adURL+"?v=1", 0)
	require.NoError(t, err)
	urgent, err := m.Submit(ctx, adURL+"?v=2", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, urgent.Priority)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, first.JobID, "higher priority is picked up first")
	assert.Equal(t, 5, first.Priority)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, routine.ID, second.JobID)
}

func TestSubmitErrors(t *testing.T) {
	t.Run("empty url", func(t *testing.T) {
		m, _ := newTestManager(new(MockRunner), nil, nil)
		_, err := m.Submit(context.Background(), "", 0)
		assert.ErrorIs(t, err, ErrEmptyURL)
	})

	t.Run("queue full", func(t *testing.T) {
		q := queue.NewInMemoryQueue(1)
		m := NewManager(new(MockRunner), q, nil, nil, slog.Default())

		_, err := m.Submit(context.Background(), adURL, 0)
		require.NoError(t, err)

		_, err = m.Submit(context.Background(), adURL, 0)
		assert.ErrorIs(t, err, queue.ErrQueueFull)
		assert.Len(t, m.List(context.Background(), 0), 1, "rejected job is not registered")
	})
}

func TestGetNotFound(t *testing.T) {
	m, _ := newTestManager(new(MockRunner), nil, nil)

	_, err := m.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListNewestFirst(t *testing.T) {
	m, _ := newTestManager(new(MockRunner), nil, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := m.Submit(ctx, fmt.Sprintf("%s?v=%d", adURL, i), 0)
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	jobs := m.List(ctx, 0)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	assert.Len(t, m.List(ctx, 2), 2)
}

func TestProcessJobSuccess(t *testing.T) {
	runner := new(MockRunner)
	publisher := new(MockPublisher)
	limiter := &fakeLimiter{}
	m, q := newTestManager(runner, limiter, publisher)
	ctx := context.Background()

	listing := sampleListing()
	runner.On("Run", mock.Anything, adURL).Return(listing, nil)

	job, err := m.Submit(ctx, adURL, 0)
	require.NoError(t, err)
	publisher.On("PublishListingExtracted", mock.Anything, job.ID, listing).Return(nil)

	task, err := q.Pop(ctx)
	require.NoError(t, err)
	m.processJob(ctx, task)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
	assert.Equal(t, 850, got.Result.Listing.Price)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	assert.Equal(t, 1, limiter.waits)
	assert.Equal(t, 1, limiter.successes)
	runner.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestProcessJobBlocked(t *testing.T) {
	runner := new(MockRunner)
	publisher := new(MockPublisher)
	limiter := &fakeLimiter{}
	m, q := newTestManager(runner, limiter, publisher)
	ctx := context.Background()

	blocked := blockedError()
	require.Equal(t, scraper.KindBlockedBySource, scraper.KindOf(blocked))
	runner.On("Run", mock.Anything, adURL).Return(nil, blocked)

	job, err := m.Submit(ctx, adURL, 0)
	require.NoError(t, err)

	task, err := q.Pop(ctx)
	require.NoError(t, err)
	m.processJob(ctx, task)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.False(t, got.Result.Success)
	assert.True(t, got.Result.NeedsManualInput)
	assert.Equal(t, string(scraper.KindBlockedBySource), got.Result.Error.Code)
	assert.NotEmpty(t, got.Error)

	assert.Equal(t, 1, limiter.errors)
	publisher.AssertNotCalled(t, "PublishListingExtracted", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessJobUnexpectedError(t *testing.T) {
	runner := new(MockRunner)
	limiter := &fakeLimiter{}
	m, q := newTestManager(runner, limiter, nil)
	ctx := context.Background()

	runner.On("Run", mock.Anything, adURL).Return(nil, errors.New("browser crashed"))

	job, err := m.Submit(ctx, adURL, 0)
	require.NoError(t, err)
	task, err := q.Pop(ctx)
	require.NoError(t, err)
	m.processJob(ctx, task)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, string(scraper.KindUnexpected), got.Result.Error.Code)
	assert.NotContains(t, got.Error, "browser crashed")
	assert.Zero(t, limiter.errors, "only blocks slow the limiter down")
}

func TestProcessJobPublishFailureKeepsResult(t *testing.T) {
	runner := new(MockRunner)
	publisher := new(MockPublisher)
	m, q := newTestManager(runner, nil, publisher)
	ctx := context.Background()

	runner.On("Run", mock.Anything, adURL).Return(sampleListing(), nil)
	publisher.On("PublishListingExtracted", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	job, err := m.Submit(ctx, adURL, 0)
	require.NoError(t, err)
	task, err := q.Pop(ctx)
	require.NoError(t, err)
	m.processJob(ctx, task)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestProcessJobLimiterCancelled(t *testing.T) {
	runner := new(MockRunner)
	limiter := &fakeLimiter{waitErr: context.Canceled}
	m, q := newTestManager(runner, limiter, nil)
	ctx := context.Background()

	job, err := m.Submit(ctx, adURL, 0)
	require.NoError(t, err)
	task, err := q.Pop(ctx)
	require.NoError(t, err)
	m.processJob(ctx, task)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestStartProcessesQueue(t *testing.T) {
	runner := new(MockRunner)
	m, q := newTestManager(runner, &fakeLimiter{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runner.On("Run", mock.Anything, mock.Anything).Return(sampleListing(), nil)

	for i := 0; i < 4; i++ {
		_, err := m.Submit(ctx, fmt.Sprintf("%s?v=%d", adURL, i), 0)
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		m.Start(ctx, 2)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return m.Stats(ctx).CompletedJobs == 4
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after the queue closed")
	}

	stats := m.Stats(ctx)
	assert.Equal(t, 4, stats.TotalJobs)
	assert.Equal(t, 0, stats.QueueSize)
	assert.Equal(t, float64(100), stats.SuccessRate)
}

func TestEvictFinishedJobs(t *testing.T) {
	m, _ := newTestManager(new(MockRunner), nil, nil)
	base := time.Now().Add(-time.Hour)

	m.mu.Lock()
	for i := 0; i < maxRetainedJobs; i++ {
		id := fmt.Sprintf("done-%d", i)
		m.jobs[id] = &Job{ID: id, Status: StatusCompleted, CreatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	m.jobs["running"] = &Job{ID: "running", Status: StatusRunning, CreatedAt: base.Add(-time.Minute)}
	m.evictLocked()
	m.mu.Unlock()

	_, err := m.Get(context.Background(), "done-0")
	assert.ErrorIs(t, err, ErrJobNotFound, "oldest finished job is evicted")

	_, err = m.Get(context.Background(), "running")
	assert.NoError(t, err)
	assert.Len(t, m.jobs, maxRetainedJobs)
}
