package queue

import (
	"fmt"
	"time"
)

// Tier is a flat schedule of retry delays. Delays must be non-decreasing.
type Tier struct {
	Name   string
	Delays []time.Duration
}

var (
	// FastTier is used while a backlog is being worked off.
	FastTier = Tier{
		Name:   "fast",
		Delays: []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour},
	}

	// SlowTier is used for steady-state refreshing.
	SlowTier = Tier{
		Name:   "slow",
		Delays: []time.Duration{15 * time.Minute, time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour},
	}
)

// TierByName returns FastTier or SlowTier.
func TierByName(name string) (Tier, error) {
	switch name {
	case FastTier.Name, "":
		return FastTier, nil
	case SlowTier.Name:
		return SlowTier, nil
	}
	return Tier{}, fmt.Errorf("unknown tier %q", name)
}

// Delay returns the delay after the n-th consecutive attempt (1-based),
// clamped to the last step.
func (t Tier) Delay(n int) time.Duration {
	if len(t.Delays) == 0 {
		return time.Minute
	}
	if n < 1 {
		n = 1
	}
	if n > len(t.Delays) {
		n = len(t.Delays)
	}
	return t.Delays[n-1]
}

// Validate checks the delays are positive and non-decreasing.
func (t Tier) Validate() error {
	if len(t.Delays) == 0 {
		return fmt.Errorf("tier %s: no delays", t.Name)
	}
	for i, d := range t.Delays {
		if d <= 0 {
			return fmt.Errorf("tier %s: delay %d must be positive", t.Name, i+1)
		}
		if i > 0 && d < t.Delays[i-1] {
			return fmt.Errorf("tier %s: delay %d (%s) is shorter than delay %d (%s)", t.Name, i+1, d, i, t.Delays[i-1])
		}
	}
	return nil
}
