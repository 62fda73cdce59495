package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []*models.Job
	nextID    int64
	completed []int64
	failed    map[int64]string
	retried   map[int64]time.Time
	released  []int64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failed: map[int64]string{}, retried: map[int64]time.Time{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	job.ID = q.nextID
	job.Status = models.JobStatusPending
	q.pending = append(q.pending, job)
	return nil
}

func (q *fakeQueue) ClaimNextJob(_ context.Context, workerID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Attempts++
	job.Status = models.JobStatusProcessing
	job.WorkerID = &workerID
	return job, nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = msg
	return nil
}

func (q *fakeQueue) ScheduleRetry(_ context.Context, id int64, _ string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[id] = at
	return nil
}

func (q *fakeQueue) ReleaseJob(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
	return nil
}

func (q *fakeQueue) GetStats(context.Context) (*models.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &models.JobStats{Pending: len(q.pending), Completed: len(q.completed), Failed: len(q.failed)}, nil
}

type fakeSessions map[string]*models.CheckoutSession

func (f fakeSessions) GetCheckoutSession(_ context.Context, id string) (*models.CheckoutSession, error) {
	s, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) SendDelivery(_ context.Context, m *models.DeliveryManifest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, m.SessionID)
	return nil
}

func testConfig() Config {
	return Config{
		MaxConcurrent:  1,
		PollInterval:   5 * time.Millisecond,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
		JobTimeout:     time.Second,
	}
}

func TestResendJobSendsStoredManifest(t *testing.T) {
	q := newFakeQueue()
	w := New(testConfig(), q)
	sessions := fakeSessions{
		"cs_1": {ID: "cs_1", Status: models.SessionFulfilled, Manifest: &models.DeliveryManifest{SessionID: "cs_1", BuyerEmail: "b@example.com"}},
	}
	notifier := &recordingNotifier{}
	RegisterDeliveryJobs(w, sessions, notifier)

	job := models.NewDeliveryResendJob("cs_1")
	require.NoError(t, w.Enqueue(context.Background(), job))

	claimed, err := q.ClaimNextJob(context.Background(), w.ID())
	require.NoError(t, err)
	w.processJob(context.Background(), claimed)

	assert.Equal(t, []string{"cs_1"}, notifier.sent)
	assert.Equal(t, []int64{job.ID}, q.completed)
	assert.EqualValues(t, 1, w.Stats().JobsSucceeded)
}

func TestResendJobRetriesUnfulfilledSession(t *testing.T) {
	q := newFakeQueue()
	w := New(testConfig(), q)
	sessions := fakeSessions{"cs_2": {ID: "cs_2", Status: models.SessionPaid}}
	RegisterDeliveryJobs(w, sessions, &recordingNotifier{})

	require.NoError(t, w.Enqueue(context.Background(), models.NewDeliveryResendJob("cs_2")))
	claimed, err := q.ClaimNextJob(context.Background(), w.ID())
	require.NoError(t, err)

	before := time.Now()
	w.processJob(context.Background(), claimed)

	require.Contains(t, q.retried, claimed.ID)
	assert.True(t, q.retried[claimed.ID].After(before))
	assert.Empty(t, q.completed)
}

func TestExhaustedJobMarkedFailed(t *testing.T) {
	q := newFakeQueue()
	w := New(testConfig(), q)
	notifier := &recordingNotifier{err: errors.New("broker down")}
	sessions := fakeSessions{
		"cs_3": {ID: "cs_3", Status: models.SessionFulfilled, Manifest: &models.DeliveryManifest{SessionID: "cs_3"}},
	}
	RegisterDeliveryJobs(w, sessions, notifier)

	job := models.NewDeliveryResendJob("cs_3")
	job.MaxAttempts = 1
	require.NoError(t, w.Enqueue(context.Background(), job))
	claimed, err := q.ClaimNextJob(context.Background(), w.ID())
	require.NoError(t, err)

	w.processJob(context.Background(), claimed)

	assert.Contains(t, q.failed[claimed.ID], "broker down")
	assert.NotContains(t, q.retried, claimed.ID)
}

func TestUnknownJobTypeFails(t *testing.T) {
	q := newFakeQueue()
	w := New(testConfig(), q)

	job := &models.Job{JobType: "mystery", Payload: models.JSONB{}, MaxAttempts: 1}
	require.NoError(t, w.Enqueue(context.Background(), job))
	claimed, err := q.ClaimNextJob(context.Background(), w.ID())
	require.NoError(t, err)

	w.processJob(context.Background(), claimed)
	assert.Contains(t, q.failed[claimed.ID], "no handler registered")
}

func TestStartProcessesQueueAndStops(t *testing.T) {
	q := newFakeQueue()
	w := New(testConfig(), q)
	sessions := fakeSessions{
		"cs_4": {ID: "cs_4", Status: models.SessionFulfilled, Manifest: &models.DeliveryManifest{SessionID: "cs_4"}},
	}
	notifier := &recordingNotifier{}
	RegisterDeliveryJobs(w, sessions, notifier)
	require.NoError(t, w.Enqueue(context.Background(), models.NewDeliveryResendJob("cs_4")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.completed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
}

func TestRetryDelayBounds(t *testing.T) {
	w := New(Config{RetryBaseDelay: time.Second, RetryMaxDelay: 10 * time.Second, RetryBackoffMultiplier: 2}, newFakeQueue())

	for attempt, base := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 10 * time.Second} {
		d := w.retryDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2), "attempt %d", attempt)
	}
}
