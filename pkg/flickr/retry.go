package flickr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
)

// Prometheus metrics for retry operations.
var (
	flickrRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_flickr_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	flickrRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_flickr_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic. Delays are fixed,
// not exponential.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// Delay is the pause between attempts.
	Delay time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       1 * time.Second,
	}
}

// retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts run out.
func (c *Client) retry(ctx context.Context, method string, fn func(attempt int) error) error {
	cfg := c.config.Retry
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str(logging.FieldMethod, method).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		class := ClassOf(err)
		if !shouldRetry(class) || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		flickrRetriesTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str(logging.FieldMethod, method).
			Str(logging.FieldErrorClass, string(class)).
			Int("attempt", attempt).
			Dur("delay", cfg.Delay).
			Msg("Retrying request after delay")

		if err := c.sleep(ctx, cfg.Delay); err != nil {
			return &APIError{Method: method, ErrorClass: ErrorClassNetwork, Err: err}
		}
	}

	class := ClassOf(lastErr)
	flickrRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str(logging.FieldMethod, method).
		Str(logging.FieldErrorClass, string(class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	exhausted := &APIError{
		Method:     method,
		ErrorClass: class,
		Err:        fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, lastErr),
	}
	var last *APIError
	if errors.As(lastErr, &last) {
		exhausted.StatusCode = last.StatusCode
	}
	return exhausted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
