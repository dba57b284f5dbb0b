package clock

import (
	"sync"
	"time"
)

// Clocker abstracts time so the store, limiter and queue can be driven by a fake clock in tests.
type Clocker interface {
	Now() time.Time
}

type systemClock struct{}

// New returns a Clocker backed by time.Now.
func New() Clocker {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
