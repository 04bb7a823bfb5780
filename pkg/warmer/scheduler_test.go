package warmer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
)

type scriptedCycler struct {
	reports []*CycleReport
	err     error
	runs    int
}

func (c *scriptedCycler) RunCycle(context.Context) (*CycleReport, error) {
	if c.err != nil {
		return nil, c.err
	}
	r := c.reports[c.runs%len(c.reports)]
	c.runs++
	return r, nil
}

var (
	busy = &CycleReport{Remaining: 3}
	idle = &CycleReport{}
)

func TestScheduler_Schedule(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewScheduler(&scriptedCycler{}, queue.FastTier, zerolog.Nop())
	s.SetClock(clk.Now, waitContext)

	assert.True(t, s.NextRun().IsZero())
	assert.Nil(t, s.LastReport())

	steps := []struct {
		report *CycleReport
		want   time.Duration
	}{
		{busy, time.Minute},
		{idle, time.Minute},
		{idle, 5 * time.Minute},
		{idle, 15 * time.Minute},
		{busy, time.Minute},
		{idle, time.Minute},
	}
	for i, st := range steps {
		d := s.Schedule(st.report)
		assert.Equal(t, st.want, d, "step %d", i)
		assert.Equal(t, clk.Now().Add(st.want), s.NextRun())
		assert.Same(t, st.report, s.LastReport())
	}
}

func TestScheduler_IdleStreakClampsToLastDelay(t *testing.T) {
	s := NewScheduler(&scriptedCycler{}, queue.SlowTier, zerolog.Nop())
	var d time.Duration
	for i := 0; i < 10; i++ {
		d = s.Schedule(idle)
	}
	assert.Equal(t, 12*time.Hour, d)
}

func TestScheduler_Serve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycler := &scriptedCycler{reports: []*CycleReport{busy, idle, idle}}
	s := NewScheduler(cycler, queue.FastTier, zerolog.Nop())

	var waits []time.Duration
	s.SetClock(time.Now, func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	})

	err := s.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, 5 * time.Minute}, waits)
	assert.Equal(t, 3, cycler.runs)
	assert.Same(t, idle, s.LastReport())
}

func TestScheduler_ServeReturnsCycleError(t *testing.T) {
	boom := errors.New("queue unavailable")
	s := NewScheduler(&scriptedCycler{err: boom}, queue.FastTier, zerolog.Nop())
	s.SetClock(time.Now, func(context.Context, time.Duration) error {
		t.Fatal("must not wait after a failed cycle")
		return nil
	})

	require.ErrorIs(t, s.Serve(context.Background()), boom)
	assert.Equal(t, "warm-scheduler", s.String())
}
