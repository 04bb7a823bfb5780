// Package quota tracks the shared hourly upstream call budget.
//
// One counter per namespace lives in the cache backend. The hour window
// starts with the first call and the counter disappears when it expires.
// Check-then-increment is not atomic across call sites; the default cap
// sits below the provider limit to absorb that race.
package quota

import "time"

const (
	// DefaultProviderMax is Flickr's published hourly limit per key.
	DefaultProviderMax = 3600

	// DefaultHourlyCap is the effective cap, about 98.6% of the provider limit.
	DefaultHourlyCap = 3550

	// MinHourlyCap is the lowest cap accepted from configuration.
	MinHourlyCap = 100

	// DefaultWindow is the quota window length.
	DefaultWindow = time.Hour
)

// State is a snapshot of the current window.
type State struct {
	Count     int       `json:"count"`
	Cap       int       `json:"cap"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Exhausted returns true if no call may be made.
func (s *State) Exhausted() bool {
	return s.Count >= s.Cap
}

// ClampCap bounds a configured cap to [MinHourlyCap, providerMax].
func ClampCap(limit, providerMax int) int {
	if providerMax <= 0 {
		providerMax = DefaultProviderMax
	}
	if limit <= 0 {
		limit = DefaultHourlyCap
	}
	if limit < MinHourlyCap {
		return MinHourlyCap
	}
	if limit > providerMax {
		return providerMax
	}
	return limit
}
