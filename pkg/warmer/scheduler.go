package warmer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
)

// Cycler runs one warm cycle. *Warmer implements it.
type Cycler interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// Scheduler re-runs the warmer forever, as a suture.Service. After each
// cycle it sleeps until an explicit next-run time taken from the tier: the
// first step while work remains, later steps as idle cycles accumulate.
type Scheduler struct {
	cycler Cycler
	tier   queue.Tier
	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger

	mu      sync.Mutex
	idle    int
	nextRun time.Time
	last    *CycleReport
}

// NewScheduler creates a scheduler using tier for the cadence.
func NewScheduler(c Cycler, tier queue.Tier, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cycler: c,
		tier:   tier,
		now:    time.Now,
		wait:   waitContext,
		logger: logger,
	}
}

// SetClock replaces the time source and the sleep (tests).
func (s *Scheduler) SetClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) error) {
	s.now = now
	s.wait = wait
}

// String implements fmt.Stringer; suture uses it in its logs.
func (s *Scheduler) String() string { return "warm-scheduler" }

// NextRun returns when the next cycle is due. Zero before the first cycle.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastReport returns the report of the latest cycle, or nil.
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Schedule records a finished cycle and returns the delay until the next.
func (s *Scheduler) Schedule(report *CycleReport) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 1
	if report == nil || !report.WorkRemains() {
		s.idle++
		n = s.idle
	} else {
		s.idle = 0
	}
	if report != nil {
		s.last = report
	}

	d := s.tier.Delay(n)
	s.nextRun = s.now().Add(d)
	return d
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info().Str("tier", s.tier.Name).Msg("Warm scheduler started")
	for {
		report, err := s.cycler.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Returning lets the supervisor restart us with its own backoff.
			s.logger.Error().Err(err).Msg("Warm cycle failed")
			return err
		}

		d := s.Schedule(report)
		s.logger.Debug().
			Dur("delay", d).
			Time("next_run", s.NextRun()).
			Bool("work_remains", report.WorkRemains()).
			Msg("Next warm cycle scheduled")

		if err := s.wait(ctx, d); err != nil {
			return err
		}
	}
}

func waitContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
