// Package worker runs background jobs from the database queue: a pool of
// processors claims due jobs, runs the registered handler and retries
// failures with jittered exponential backoff.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

// Handler processes one job.
type Handler func(ctx context.Context, job *models.Job) error

// Queue is the job persistence the worker drives.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// Instrumentation hooks observe the job lifecycle. Nil hooks are skipped.
type Instrumentation struct {
	OnEnqueue  func(job *models.Job)
	OnComplete func(job *models.Job, duration time.Duration)
	OnFail     func(job *models.Job, err error, duration time.Duration)
	OnRetry    func(job *models.Job, delay time.Duration)
}

// Stats are in-process counters for this worker.
type Stats struct {
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsSucceeded   int64     `json:"jobs_succeeded"`
	JobsFailed      int64     `json:"jobs_failed"`
	JobsRetried     int64     `json:"jobs_retried"`
	ActiveJobs      int       `json:"active_jobs"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// Config holds worker tuning.
type Config struct {
	MaxConcurrent          int
	PollInterval           time.Duration
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	RetryBackoffMultiplier float64
	JobTimeout             time.Duration
	ShutdownTimeout        time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           2 * time.Second,
		RetryBaseDelay:         5 * time.Second,
		RetryMaxDelay:          10 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             30 * time.Second,
		ShutdownTimeout:        15 * time.Second,
	}
}

// Worker claims and runs jobs.
type Worker struct {
	config          Config
	queue           Queue
	instrumentation Instrumentation

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool

	mu         sync.RWMutex
	handlers   map[string]Handler
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.Mutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	lastProcessedAt time.Time
}

// New creates a Worker. Zero config fields take DefaultConfig values.
func New(config Config, queue Queue) *Worker {
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = defaults.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &Worker{
		config:     config,
		queue:      queue,
		workerID:   "worker-" + uuid.NewString()[:8],
		stopCh:     make(chan struct{}),
		handlers:   make(map[string]Handler),
		activeJobs: make(map[int64]context.CancelFunc),
	}
}

// ID identifies this worker in claimed rows.
func (w *Worker) ID() string { return w.workerID }

// RegisterHandler binds a handler to a job type, replacing any previous one.
func (w *Worker) RegisterHandler(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// SetInstrumentation installs lifecycle hooks. Call before Start.
func (w *Worker) SetInstrumentation(inst Instrumentation) {
	w.instrumentation = inst
}

// Start launches the processor pool.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
	log.Printf("[worker] %s started %d processors", w.workerID, w.config.MaxConcurrent)
}

// Stop signals processors to exit, releases in-flight jobs back to pending
// and waits up to ShutdownTimeout for the pool to drain.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[worker] %s stopped", w.workerID)
		return nil
	case <-shutdownCtx.Done():
		return errors.New("worker: shutdown timeout exceeded")
	}
}

func (w *Worker) processor(ctx context.Context, n int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		if err := w.processNextJob(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[worker] %s/%d: %v", w.workerID, n, err)
			w.wait(ctx)
		}
	}
}

// wait sleeps for one poll interval or until shutdown.
func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-timer.C:
	}
}

func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.wait(ctx)
		return nil
	}
	w.processJob(ctx, job)
	return nil
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	log.Printf("[worker] job %d (%s) attempt %d/%d", job.ID, job.JobType, job.Attempts, job.MaxAttempts)

	w.mu.RLock()
	handler, ok := w.handlers[job.JobType]
	w.mu.RUnlock()
	if !ok {
		w.handleError(ctx, job, fmt.Errorf("no handler registered for job type %s", job.JobType), start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

func (w *Worker) handleError(ctx context.Context, job *models.Job, jobErr error, start time.Time) {
	duration := time.Since(start)
	log.Printf("[worker] job %d failed after %v: %v", job.ID, duration, jobErr)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if w.instrumentation.OnFail != nil {
		w.instrumentation.OnFail(job, jobErr, duration)
	}

	if !job.CanRetry() {
		log.Printf("[worker] job %d exhausted %d attempts", job.ID, job.MaxAttempts)
		if err := w.queue.MarkFailed(ctx, job.ID, jobErr.Error()); err != nil {
			log.Printf("[worker] mark job %d failed: %v", job.ID, err)
		}
		return
	}

	delay := w.retryDelay(job.Attempts)
	w.statsMu.Lock()
	w.jobsRetried++
	w.statsMu.Unlock()

	if w.instrumentation.OnRetry != nil {
		w.instrumentation.OnRetry(job, delay)
	}
	if err := w.queue.ScheduleRetry(ctx, job.ID, jobErr.Error(), time.Now().Add(delay)); err != nil {
		log.Printf("[worker] schedule retry for job %d: %v", job.ID, err)
	}
}

// retryDelay is base*multiplier^(attempt-1), capped, with ±20% jitter.
func (w *Worker) retryDelay(attempt int) time.Duration {
	exp := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(max(attempt-1, 0)))
	delay := min(exp, float64(w.config.RetryMaxDelay))
	return time.Duration(delay * (0.8 + 0.4*rand.Float64()))
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if w.instrumentation.OnComplete != nil {
		w.instrumentation.OnComplete(job, duration)
	}
	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		log.Printf("[worker] mark job %d completed: %v", job.ID, err)
	}
	log.Printf("[worker] job %d completed in %v", job.ID, duration)
}

func (w *Worker) trackActiveJob(id int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[id] = cancel
}

func (w *Worker) untrackActiveJob(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, id)
}

func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		cancel()
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			log.Printf("[worker] release job %d: %v", id, err)
		}
	}
}

// Stats returns this worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return Stats{
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		ActiveJobs:      active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue adds a job to the queue.
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	if w.instrumentation.OnEnqueue != nil {
		w.instrumentation.OnEnqueue(job)
	}
	log.Printf("[worker] enqueued job %d (%s)", job.ID, job.JobType)
	return nil
}

// QueueStats returns queue-wide counts from the database.
func (w *Worker) QueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.queue.GetStats(ctx)
}
