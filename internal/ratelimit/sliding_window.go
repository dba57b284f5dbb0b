package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/otpverify/internal/clock"
)

// Limiter is the backend used by the HTTP rate limit middleware.
type Limiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SlidingWindow counts requests per key over a trailing window.
// Rejected requests are not recorded.
type SlidingWindow struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	clock   clock.Clocker
}

func NewSlidingWindow(clk clock.Clocker) *SlidingWindow {
	if clk == nil {
		clk = clock.New()
	}
	return &SlidingWindow{
		windows: make(map[string][]time.Time),
		clock:   clk,
	}
}

func (l *SlidingWindow) Allow(key string, window time.Duration, maxRequests int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := evict(l.windows[key], now, window)

	if len(recent) >= maxRequests {
		l.windows[key] = recent
		return false
	}

	l.windows[key] = append(recent, now)
	return true
}

func (l *SlidingWindow) Take(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.Allow(key, window, limit), nil
}

// Prune drops keys with no instants newer than window.
func (l *SlidingWindow) Prune(now time.Time, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, instants := range l.windows {
		recent := evict(instants, now, window)
		if len(recent) == 0 {
			delete(l.windows, key)
			removed++
			continue
		}
		l.windows[key] = recent
	}
	return removed
}

func (l *SlidingWindow) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// evict returns the suffix of instants younger than window. Instants are kept in
// insertion order so the first young one marks the cut.
func evict(instants []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := 0
	for cut < len(instants) && now.Sub(instants[cut]) >= window {
		cut++
	}
	if cut == 0 {
		return instants
	}
	kept := make([]time.Time, len(instants)-cut)
	copy(kept, instants[cut:])
	return kept
}
