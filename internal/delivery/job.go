package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is a single pending delivery. Its completion handle is resolved exactly once by the worker.
type Job struct {
	ID          string
	PhoneNumber string
	Code        string
	EnqueuedAt  time.Time

	once    sync.Once
	done    chan struct{}
	err     error
	receipt *Receipt
}

func newJob(phoneNumber, code string, now time.Time) *Job {
	return &Job{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		Code:        code,
		EnqueuedAt:  now,
		done:        make(chan struct{}),
	}
}

// Done is closed once the job has been resolved or rejected.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job completes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the delivery error, nil on success or while the job is pending.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Receipt returns the provider receipt of a successful delivery.
func (j *Job) Receipt() *Receipt {
	select {
	case <-j.done:
		return j.receipt
	default:
		return nil
	}
}

func (j *Job) complete(receipt *Receipt, err error) {
	j.once.Do(func() {
		j.receipt = receipt
		j.err = err
		close(j.done)
	})
}
