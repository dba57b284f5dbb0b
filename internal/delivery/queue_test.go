package delivery

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// gatedTransport records start/end events and blocks every send until released.
type gatedTransport struct {
	mu     sync.Mutex
	events []string
	gate   chan struct{}
	fail   map[string]bool
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{gate: make(chan struct{}), fail: make(map[string]bool)}
}

func (t *gatedTransport) Name() string { return "gated" }

func (t *gatedTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	t.record("start:" + msg.Recipient)
	select {
	case <-t.gate:
	case <-ctx.Done():
		t.record("cancel:" + msg.Recipient)
		return nil, ctx.Err()
	}
	t.record("end:" + msg.Recipient)
	if t.fail[msg.Recipient] {
		return nil, ErrDeliveryFailed
	}
	return &Receipt{Provider: t.Name(), ProviderMessageID: "id-" + msg.JobID}, nil
}

func (t *gatedTransport) record(event string) {
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

func (t *gatedTransport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	reports []models.DeliveryReport
}

func (r *fakeRecorder) Record(_ context.Context, report models.DeliveryReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeRecorder) Reports() []models.DeliveryReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.DeliveryReport(nil), r.reports...)
}

func testQueueConfig() QueueConfig {
	return QueueConfig{Formatter: Formatter{CountryCode: "+91"}}
}

func waitJob(t *testing.T, job *Job) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := job.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "job %s did not complete", job.ID)
	return err
}

func TestQueue_FIFOAndSingleInFlight(t *testing.T) {
	transport := newGatedTransport()
	q := NewQueue(transport, testQueueConfig(), discardLogger())
	q.Start()
	defer q.Shutdown(context.Background())

	jobA, posA, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)
	jobB, posB, err := q.Enqueue("9000000002", "222222")
	require.NoError(t, err)

	assert.Equal(t, 1, posA)
	assert.Equal(t, 2, posB)
	assert.Equal(t, 2, q.Position("9000000002"))
	assert.Equal(t, 2, q.Len())

	transport.gate <- struct{}{}
	require.NoError(t, waitJob(t, jobA))
	assert.Equal(t, 1, q.Position("9000000002"))
	assert.Equal(t, 0, q.Position("9000000001"))

	transport.gate <- struct{}{}
	require.NoError(t, waitJob(t, jobB))

	assert.Equal(t, []string{
		"start:+919000000001",
		"end:+919000000001",
		"start:+919000000002",
		"end:+919000000002",
	}, transport.Events())
	assert.Equal(t, 0, q.Len())
	require.NotNil(t, jobA.Receipt())
	assert.Equal(t, "id-"+jobA.ID, jobA.Receipt().ProviderMessageID)
}

func TestQueue_PositionTracksMostRecentJob(t *testing.T) {
	transport := newGatedTransport()
	q := NewQueue(transport, testQueueConfig(), discardLogger())

	_, _, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)
	_, _, err = q.Enqueue("9000000002", "222222")
	require.NoError(t, err)
	_, pos, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)

	assert.Equal(t, 3, pos)
	assert.Equal(t, 3, q.Position("9000000001"))
	assert.Equal(t, 0, q.Position("9000000003"))

	require.NoError(t, q.Shutdown(context.Background()))
}

func TestQueue_FailureSurfacesOnHandleAndReport(t *testing.T) {
	transport := newGatedTransport()
	transport.fail["+919000000001"] = true
	recorder := &fakeRecorder{}
	q := NewQueue(transport, testQueueConfig(), discardLogger(), WithRecorder(recorder))
	q.Start()
	defer q.Shutdown(context.Background())

	failing, _, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)
	ok, _, err := q.Enqueue("9000000002", "222222")
	require.NoError(t, err)

	transport.gate <- struct{}{}
	transport.gate <- struct{}{}

	assert.ErrorIs(t, waitJob(t, failing), ErrDeliveryFailed)
	assert.NoError(t, waitJob(t, ok))

	require.Eventually(t, func() bool { return len(recorder.Reports()) == 2 }, time.Second, 5*time.Millisecond)
	reports := recorder.Reports()
	assert.Equal(t, models.DeliveryStatusFailed, reports[0].Status)
	assert.Equal(t, "9000000001", reports[0].PhoneNumber)
	assert.NotEmpty(t, reports[0].Error)
	assert.Equal(t, models.DeliveryStatusSent, reports[1].Status)
	assert.Equal(t, "gated", reports[1].Provider)
}

func TestQueue_TransportErrorsAreWrapped(t *testing.T) {
	q := NewQueue(transportFunc(func(ctx context.Context, msg Message) (*Receipt, error) {
		return nil, errors.New("connection refused")
	}), testQueueConfig(), discardLogger())
	q.Start()
	defer q.Shutdown(context.Background())

	job, _, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)

	err = waitJob(t, job)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestQueue_ShutdownDrains(t *testing.T) {
	var mu sync.Mutex
	var order []string
	q := NewQueue(transportFunc(func(ctx context.Context, msg Message) (*Receipt, error) {
		mu.Lock()
		order = append(order, msg.Recipient)
		mu.Unlock()
		return &Receipt{}, nil
	}), testQueueConfig(), discardLogger())

	var jobs []*Job
	for _, phone := range []string{"9000000001", "9000000002", "9000000003"} {
		job, _, err := q.Enqueue(phone, "123456")
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	q.Start()

	require.NoError(t, q.Shutdown(context.Background()))
	for _, job := range jobs {
		assert.NoError(t, job.Err())
	}
	assert.Equal(t, []string{"+919000000001", "+919000000002", "+919000000003"}, order)

	_, _, err := q.Enqueue("9000000004", "123456")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_ShutdownDeadlineRejectsPending(t *testing.T) {
	transport := newGatedTransport()
	q := NewQueue(transport, testQueueConfig(), discardLogger())
	q.Start()

	inFlight, _, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)
	pending, _, err := q.Enqueue("9000000002", "222222")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(transport.Events()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	assert.ErrorIs(t, waitJob(t, inFlight), context.Canceled)
	assert.ErrorIs(t, waitJob(t, pending), ErrQueueClosed)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ShutdownWithoutStart(t *testing.T) {
	q := NewQueue(newGatedTransport(), testQueueConfig(), discardLogger())
	job, _, err := q.Enqueue("9000000001", "111111")
	require.NoError(t, err)

	require.NoError(t, q.Shutdown(context.Background()))
	assert.ErrorIs(t, job.Err(), ErrQueueClosed)
}

type transportFunc func(ctx context.Context, msg Message) (*Receipt, error)

func (f transportFunc) Name() string { return "func" }

func (f transportFunc) Send(ctx context.Context, msg Message) (*Receipt, error) { return f(ctx, msg) }
