package delivery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SimulatedTransport stands in for an SMS provider: it sleeps for a random
// latency within [MinLatency, MaxLatency] and succeeds with SuccessRate probability.
type SimulatedTransport struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64

	logger *logrus.Logger
	mu     sync.Mutex
	rnd    *rand.Rand
}

func NewSimulatedTransport(minLatency, maxLatency time.Duration, successRate float64, logger *logrus.Logger) *SimulatedTransport {
	return NewSimulatedTransportWithSource(minLatency, maxLatency, successRate, rand.NewSource(time.Now().UnixNano()), logger)
}

func NewSimulatedTransportWithSource(minLatency, maxLatency time.Duration, successRate float64, src rand.Source, logger *logrus.Logger) *SimulatedTransport {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &SimulatedTransport{
		MinLatency:  minLatency,
		MaxLatency:  maxLatency,
		SuccessRate: successRate,
		logger:      logger,
		rnd:         rand.New(src),
	}
}

func (t *SimulatedTransport) Name() string {
	return "simulated"
}

func (t *SimulatedTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	latency, roll := t.draw()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if roll >= t.SuccessRate {
		t.logger.WithField("recipient", msg.Recipient).Warn("[SMS Service] Simulated delivery failure")
		return nil, ErrDeliveryFailed
	}

	t.logger.WithField("recipient", msg.Recipient).Info("[SMS Service] OTP sent (simulated)")
	return &Receipt{
		Provider:          t.Name(),
		ProviderMessageID: "sim-" + uuid.NewString(),
	}, nil
}

func (t *SimulatedTransport) draw() (time.Duration, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	latency := t.MinLatency
	if spread := t.MaxLatency - t.MinLatency; spread > 0 {
		latency += time.Duration(t.rnd.Int63n(int64(spread) + 1))
	}
	return latency, t.rnd.Float64()
}
