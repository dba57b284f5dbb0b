package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/qcom/otpverify/internal/clock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type ExpirySweeper interface {
	SweepExpired(now time.Time) int
}

type Pruner interface {
	Prune(now time.Time, window time.Duration) int
}

type pruneTarget struct {
	name    string
	limiter Pruner
	window  time.Duration
}

// Sweeper periodically drops expired OTP records and idle rate limit keys.
type Sweeper struct {
	store   ExpirySweeper
	targets []pruneTarget
	clock   clock.Clocker
	logger  *logrus.Logger
	cron    *cron.Cron
}

func NewSweeper(store ExpirySweeper, clk clock.Clocker, logger *logrus.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// AddLimiter registers an in-memory limiter whose keys expire after window.
func (s *Sweeper) AddLimiter(name string, limiter Pruner, window time.Duration) {
	s.targets = append(s.targets, pruneTarget{name: name, limiter: limiter, window: window})
}

// Sweep runs one maintenance pass and returns the number of records and
// limiter keys removed.
func (s *Sweeper) Sweep() (int, int) {
	now := s.clock.Now()

	records := 0
	if s.store != nil {
		records = s.store.SweepExpired(now)
	}

	keys := 0
	for _, t := range s.targets {
		keys += t.limiter.Prune(now, t.window)
	}

	s.logger.WithFields(logrus.Fields{
		"expired_records": records,
		"pruned_keys":     keys,
	}).Info("Maintenance sweep completed")

	return records, keys
}

// Start schedules Sweep on spec, a five-field cron expression or a
// descriptor such as "@every 5m".
func (s *Sweeper) Start(spec string) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cron.PrintfLogger(s.logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger)), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("invalid maintenance schedule '%s': %w", spec, err)
	}

	s.cron = c
	c.Start()
	s.logger.WithField("schedule", spec).Info("Maintenance scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
