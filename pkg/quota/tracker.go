package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
)

// Prometheus metrics for quota tracking.
var (
	quotaCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_quota_count",
		Help: "Upstream calls made in the current quota window",
	})

	quotaCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_quota_calls_total",
		Help: "Total number of upstream calls counted against the quota",
	})

	quotaBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_quota_blocked_total",
		Help: "Total number of calls refused because the quota was exhausted or unreadable",
	})
)

// Config sets the cap and window.
type Config struct {
	HourlyCap   int
	ProviderMax int
	Window      time.Duration
}

// Tracker gates outbound calls on the hourly counter.
type Tracker struct {
	backend   cache.Backend
	key       string
	windowKey string
	cap       int
	window    time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewTracker creates a tracker storing its counter under
// <namespace>:quota:hourly.
func NewTracker(backend cache.Backend, namespace string, cfg Config, logger zerolog.Logger) *Tracker {
	if backend == nil {
		panic("quota backend cannot be nil")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		backend:   backend,
		key:       namespace + ":quota:hourly",
		windowKey: namespace + ":quota:window_start",
		cap:       ClampCap(cfg.HourlyCap, cfg.ProviderMax),
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source used for the reported reset time.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Cap returns the effective cap.
func (t *Tracker) Cap() int { return t.cap }

// CurrentCount returns the calls made in the current window.
func (t *Tracker) CurrentCount(ctx context.Context) (int, error) {
	raw, err := t.backend.Get(ctx, t.key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota counter: %w", err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse quota counter %q: %w", raw, err)
	}
	return n, nil
}

// CanMakeCall reports whether one more call fits under the cap. It must be
// checked immediately before every outbound call. A counter that cannot be
// read blocks the call.
func (t *Tracker) CanMakeCall(ctx context.Context) bool {
	n, err := t.CurrentCount(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("Quota counter unavailable - blocking call")
		quotaBlockedTotal.Inc()
		return false
	}
	if n >= t.cap {
		t.logger.Warn().
			Int("quota_count", n).
			Int("quota_cap", t.cap).
			Msg("Hourly quota exhausted - blocking call")
		quotaBlockedTotal.Inc()
		return false
	}
	return true
}

// Increment counts one dispatched call and returns the new count. Call it
// only after the request was actually sent.
func (t *Tracker) Increment(ctx context.Context) (int, error) {
	n64, err := t.backend.Incr(ctx, t.key, t.window)
	if err != nil {
		return 0, fmt.Errorf("increment quota counter: %w", err)
	}
	n := int(n64)

	if n == 1 {
		start := strconv.FormatInt(t.now().Unix(), 10)
		if err := t.backend.Set(ctx, t.windowKey, []byte(start), t.window); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to record quota window start")
		}
	}

	quotaCallsTotal.Inc()
	quotaCount.Set(float64(n))

	if n == t.cap {
		t.logger.Warn().
			Int("quota_count", n).
			Int("quota_cap", t.cap).
			Msg("Hourly quota reached")
	}
	return n, nil
}

// State returns the current window snapshot.
func (t *Tracker) State(ctx context.Context) (*State, error) {
	n, err := t.CurrentCount(ctx)
	if err != nil {
		return nil, err
	}

	s := &State{Count: n, Cap: t.cap, Remaining: t.cap - n}
	if s.Remaining < 0 {
		s.Remaining = 0
	}

	raw, err := t.backend.Get(ctx, t.windowKey)
	switch {
	case err == nil:
		if sec, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			s.ResetAt = time.Unix(sec, 0).Add(t.window)
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, fmt.Errorf("read quota window: %w", err)
	}

	quotaCount.Set(float64(n))
	return s, nil
}
