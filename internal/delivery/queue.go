package delivery

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
)

// Recorder persists delivery outcomes.
type Recorder interface {
	Record(ctx context.Context, report models.DeliveryReport) error
}

type QueueConfig struct {
	// Spacing is the pause after each job before the next one is taken.
	Spacing time.Duration
	// SendTimeout bounds a single transport call. Zero means no bound.
	SendTimeout time.Duration
	Formatter   Formatter
}

type Option func(*Queue)

func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

func WithClock(c clock.Clocker) Option {
	return func(q *Queue) { q.clock = c }
}

// Queue is a FIFO of delivery jobs drained by a single worker goroutine,
// so at most one job is in flight at any time.
type Queue struct {
	transport Transport
	recorder  Recorder
	cfg       QueueConfig
	clock     clock.Clocker
	logger    *logrus.Logger

	mu      sync.Mutex
	jobs    *list.List
	closed  bool
	started bool

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewQueue(transport Transport, cfg QueueConfig, logger *logrus.Logger, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		transport: transport,
		cfg:       cfg,
		clock:     clock.New(),
		logger:    logger,
		jobs:      list.New(),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the worker. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.run()

	q.logger.WithField("provider", q.transport.Name()).Info("Delivery queue started")
}

// Enqueue appends a job and returns it with its 1-based position among the
// jobs not yet completed. It never blocks on delivery.
func (q *Queue) Enqueue(phoneNumber, code string) (*Job, int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, 0, ErrQueueClosed
	}
	job := newJob(phoneNumber, code, q.clock.Now())
	q.jobs.PushBack(job)
	position := q.jobs.Len()
	q.mu.Unlock()

	queueDepthGauge.Inc()
	jobsEnqueuedCounter.Inc()
	q.signal()

	q.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"phone":    phoneNumber,
		"position": position,
	}).Info("OTP queued for delivery")

	return job, position, nil
}

// Position returns the rank of the most recent uncompleted job for phoneNumber, or 0.
func (q *Queue) Position(phoneNumber string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	position := 0
	rank := 0
	for e := q.jobs.Front(); e != nil; e = e.Next() {
		rank++
		if e.Value.(*Job).PhoneNumber == phoneNumber {
			position = rank
		}
	}
	return position
}

// Len returns the number of jobs not yet completed, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// Shutdown stops accepting jobs and waits for the worker to drain the queue.
// When ctx ends first, the in-flight send is cancelled and the remaining jobs
// are rejected with ErrQueueClosed.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		q.rejectPending()
		return nil
	}

	q.signal()

	select {
	case <-q.stopped:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.stopped
		return ctx.Err()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		elem, ok := q.next()
		if !ok {
			q.rejectPending()
			q.logger.Info("Delivery queue stopped")
			return
		}

		q.process(elem)

		if q.cfg.Spacing > 0 {
			timer := time.NewTimer(q.cfg.Spacing)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
			}
		}
	}
}

// next blocks until a job is at the head of the queue or the worker must stop.
func (q *Queue) next() (*list.Element, bool) {
	for {
		q.mu.Lock()
		if q.ctx.Err() != nil {
			q.mu.Unlock()
			return nil, false
		}
		if front := q.jobs.Front(); front != nil {
			q.mu.Unlock()
			return front, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
		}
	}
}

func (q *Queue) process(elem *list.Element) {
	job := elem.Value.(*Job)
	provider := q.transport.Name()

	sendCtx := q.ctx
	if q.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(q.ctx, q.cfg.SendTimeout)
		defer cancel()
	}

	msg := Message{
		JobID:     job.ID,
		Recipient: q.cfg.Formatter.Recipient(job.PhoneNumber),
		Body:      q.cfg.Formatter.Body(job.Code),
	}

	start := time.Now()
	receipt, err := q.transport.Send(sendCtx, msg)
	duration := time.Since(start)
	if err != nil && !errors.Is(err, ErrDeliveryFailed) {
		err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	q.mu.Lock()
	q.jobs.Remove(elem)
	q.mu.Unlock()
	queueDepthGauge.Dec()

	deliveryDurationHist.WithLabelValues(provider).Observe(duration.Seconds())

	fields := logrus.Fields{
		"job_id":   job.ID,
		"phone":    job.PhoneNumber,
		"provider": provider,
		"duration": duration.String(),
	}
	report := models.DeliveryReport{
		JobID:       job.ID,
		PhoneNumber: job.PhoneNumber,
		Provider:    provider,
		EnqueuedAt:  job.EnqueuedAt,
		CompletedAt: q.clock.Now(),
		DurationMs:  duration.Milliseconds(),
	}

	if err != nil {
		jobsProcessedCounter.WithLabelValues(provider, string(models.DeliveryStatusFailed)).Inc()
		q.logger.WithFields(fields).WithError(err).Warn("Failed to deliver OTP")
		report.Status = models.DeliveryStatusFailed
		report.Error = err.Error()
	} else {
		jobsProcessedCounter.WithLabelValues(provider, string(models.DeliveryStatusSent)).Inc()
		if receipt != nil {
			fields["provider_message_id"] = receipt.ProviderMessageID
			report.ProviderMessageID = receipt.ProviderMessageID
		}
		q.logger.WithFields(fields).Info("OTP delivered")
		report.Status = models.DeliveryStatusSent
	}

	job.complete(receipt, err)
	q.record(report)
}

func (q *Queue) record(report models.DeliveryReport) {
	if q.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.recorder.Record(ctx, report); err != nil {
		q.logger.WithError(err).WithField("job_id", report.JobID).Error("Failed to record delivery report")
	}
}

func (q *Queue) rejectPending() {
	q.mu.Lock()
	var pending []*Job
	for e := q.jobs.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(*Job))
	}
	q.jobs.Init()
	q.mu.Unlock()

	for _, job := range pending {
		queueDepthGauge.Dec()
		jobsProcessedCounter.WithLabelValues(q.transport.Name(), "rejected").Inc()
		job.complete(nil, ErrQueueClosed)
	}

	if len(pending) > 0 {
		q.logger.WithField("rejected", len(pending)).Warn("Rejected undelivered OTP jobs at shutdown")
	}
}
