// Package flickr is the REST transport to the Flickr API: request signing
// with the API key, envelope parsing, error classification, fixed retries,
// a circuit breaker and outbound pacing. Every dispatched request is counted
// against the hourly quota.
package flickr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
)

// DefaultBaseURL is the Flickr REST endpoint.
const DefaultBaseURL = "https://api.flickr.com/services/rest/"

const maxBodyBytes = 16 << 20

// Prometheus metrics for Flickr client operations.
var (
	flickrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_flickr_requests_total",
		Help: "Total Flickr requests by method and status",
	}, []string{"method", "status"})

	flickrRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_flickr_request_duration_seconds",
		Help:    "Flickr request duration in seconds by method",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	flickrErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_flickr_errors_total",
		Help: "Total Flickr errors by class",
	}, []string{"class"})
)

// Quota is the call budget consulted before and charged after every
// request. *quota.Tracker implements it.
type Quota interface {
	CanMakeCall(ctx context.Context) bool
	Increment(ctx context.Context) (int, error)
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the REST endpoint.
	BaseURL string

	// APIKey is sent as api_key on every call. REQUIRED.
	APIKey string

	// Timeout bounds each attempt.
	Timeout time.Duration

	Retry RetryConfig

	// RequestsPerSecond paces outbound calls; 0 disables pacing.
	RequestsPerSecond float64

	// BreakerFailures consecutive server/network failures open the circuit
	// for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		APIKey:            apiKey,
		Timeout:           10 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: 5,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

// Client is the Flickr REST client.
type Client struct {
	httpClient *http.Client
	config     Config
	quota      Quota
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     zerolog.Logger
	sleep      func(context.Context, time.Duration) error
}

// New creates a new Flickr client.
func New(cfg Config, quota Quota, logger zerolog.Logger) (*Client, error) {
	if quota == nil {
		return nil, fmt.Errorf("quota tracker is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	c := &Client{
		httpClient: httpClient,
		config:     cfg,
		quota:      quota,
		limiter:    limiter,
		logger:     logger,
		sleep:      sleepContext,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "flickr",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only failures that say something about upstream health count.
		IsSuccessful: func(err error) bool {
			return err == nil || !shouldRetry(ClassOf(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// SetSleep replaces the retry sleep (tests).
func (c *Client) SetSleep(fn func(context.Context, time.Duration) error) {
	c.sleep = fn
}

// envelope is the common part of every response.
type envelope struct {
	Stat    string  `json:"stat"`
	Code    flexInt `json:"code"`
	Message string  `json:"message"`
}

// Call invokes method with params and decodes the stat=ok body into out.
// The quota is checked before every attempt and charged after every
// dispatched request.
func (c *Client) Call(ctx context.Context, method string, params url.Values, out any) error {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("method", method)
	q.Set("api_key", c.config.APIKey)
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	endpoint := c.config.BaseURL + "?" + q.Encode()

	var body []byte
	err := c.retry(ctx, method, func(attempt int) error {
		b, err := c.attempt(ctx, method, endpoint, attempt)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		flickrErrorsTotal.WithLabelValues(string(ClassOf(err))).Inc()
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		flickrErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
		return &APIError{Method: method, StatusCode: http.StatusOK, ErrorClass: ErrorClassMalformed, Err: err}
	}
	if env.Stat != "ok" {
		if env.Stat == "" {
			flickrErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
			return &APIError{Method: method, StatusCode: http.StatusOK, ErrorClass: ErrorClassMalformed, Message: "missing stat"}
		}
		flickrErrorsTotal.WithLabelValues(string(ErrorClassAPI)).Inc()
		return &APIError{
			Method:     method,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassAPI,
			Code:       int(env.Code),
			Message:    env.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			flickrErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
			return &APIError{Method: method, StatusCode: http.StatusOK, ErrorClass: ErrorClassMalformed, Err: err}
		}
	}
	return nil
}

// attempt performs one request: quota check, pacing, breaker, dispatch.
func (c *Client) attempt(ctx context.Context, method, endpoint string, attempt int) ([]byte, error) {
	if !c.quota.CanMakeCall(ctx) {
		flickrRequestsTotal.WithLabelValues(method, "quota_blocked").Inc()
		return nil, &APIError{Method: method, ErrorClass: ErrorClassRateLimit, Err: ErrQuotaExhausted}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Method: method, ErrorClass: ErrorClassNetwork, Err: err}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.dispatch(ctx, method, endpoint, attempt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		flickrRequestsTotal.WithLabelValues(method, "circuit_open").Inc()
		return nil, &APIError{Method: method, ErrorClass: ErrorClassServer, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	return body, err
}

func (c *Client) dispatch(ctx context.Context, method, endpoint string, attempt int) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &APIError{Method: method, ErrorClass: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str(logging.FieldMethod, method).
		Int("attempt", attempt).
		Msg("Executing Flickr request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	flickrRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	// The request left the process; it counts whatever the outcome.
	if n, qerr := c.quota.Increment(ctx); qerr != nil {
		c.logger.Error().Err(qerr).Str(logging.FieldMethod, method).Msg("Failed to count call against quota")
	} else {
		c.logger.Debug().Str(logging.FieldMethod, method).Int("quota_count", n).Msg("Quota charged")
	}

	if err != nil {
		flickrRequestsTotal.WithLabelValues(method, "network_error").Inc()
		c.logger.Warn().Err(err).Str(logging.FieldMethod, method).Int("attempt", attempt).Msg("HTTP request failed")
		return nil, &APIError{Method: method, ErrorClass: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	flickrRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.logger.Warn().
			Str(logging.FieldMethod, method).
			Int("status", resp.StatusCode).
			Str(logging.FieldErrorClass, string(class)).
			Int("attempt", attempt).
			Msg("Flickr request error")
		return nil, &APIError{Method: method, StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &APIError{Method: method, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// classifyStatus categorizes a non-2xx status; "" means success.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
