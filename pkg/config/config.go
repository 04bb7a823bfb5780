// Package config holds the typed service configuration and maps it onto the
// component configs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/fetcher"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/flickr"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/pagination"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/quota"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/warmer"
)

// Cache backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrMissingAPIKey is returned by RequireAPIKey.
var ErrMissingAPIKey = errors.New("api.key is not configured")

// Config is the complete configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Quota     QuotaConfig     `koanf:"quota"`
	Cache     CacheConfig     `koanf:"cache"`
	Database  DatabaseConfig  `koanf:"database"`
	Warmer    WarmerConfig    `koanf:"warmer"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// APIConfig configures the Flickr transport.
type APIConfig struct {
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	Key               string        `koanf:"key"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts     int           `koanf:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay        time.Duration `koanf:"retry_delay" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	BreakerFailures   uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// QuotaConfig configures the hourly budget.
type QuotaConfig struct {
	HourlyCap   int           `koanf:"hourly_cap" validate:"gt=0"`
	ProviderMax int           `koanf:"provider_max" validate:"gt=0"`
	Window      time.Duration `koanf:"window" validate:"gt=0"`
}

// CacheConfig configures the resource cache.
type CacheConfig struct {
	Backend       string        `koanf:"backend" validate:"oneof=redis sqlite memory"`
	Namespace     string        `koanf:"namespace" validate:"required,excludesall=:"`
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	NegativeTTL   time.Duration `koanf:"negative_ttl" validate:"gt=0"`
	PartialTTL    time.Duration `koanf:"partial_ttl" validate:"gt=0"`
	BackoffWindow time.Duration `koanf:"backoff_window" validate:"gt=0"`
	UserTTL       time.Duration `koanf:"user_ttl" validate:"gt=0"`
	Redis         RedisConfig   `koanf:"redis"`
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string `koanf:"addr" validate:"required_if=Enabled true"`
	DB       int    `koanf:"db" validate:"gte=0"`
	Password string `koanf:"password"`

	// Enabled is derived from CacheConfig.Backend.
	Enabled bool `koanf:"-"`
}

// DatabaseConfig locates the SQLite database holding the queue, the
// registry and, for the sqlite backend, the cache.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// WarmerConfig configures cycles and cadence.
type WarmerConfig struct {
	ItemBudget     int             `koanf:"item_budget"`
	TimeBudget     time.Duration   `koanf:"time_budget" validate:"gt=0"`
	PerPage        int             `koanf:"per_page"`
	Mode           string          `koanf:"mode" validate:"oneof=fast slow"`
	Sizes          []string        `koanf:"sizes"`
	FastDelays     []time.Duration `koanf:"fast_delays" validate:"dive,gt=0"`
	SlowDelays     []time.Duration `koanf:"slow_delays" validate:"dive,gt=0"`
	PartialRequeue time.Duration   `koanf:"partial_requeue" validate:"gt=0"`
}

// DiscoveryConfig locates the content documents.
type DiscoveryConfig struct {
	DocumentsDir string   `koanf:"documents_dir"`
	Extensions   []string `koanf:"extensions"`
}

// ServerConfig configures the HTTP listener of serve.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           flickr.DefaultBaseURL,
			Timeout:           10 * time.Second,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
			RequestsPerSecond: 5,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Quota: QuotaConfig{
			HourlyCap:   quota.DefaultHourlyCap,
			ProviderMax: quota.DefaultProviderMax,
			Window:      quota.DefaultWindow,
		},
		Cache: CacheConfig{
			Backend:       BackendSQLite,
			Namespace:     "gallery",
			TTL:           24 * time.Hour,
			NegativeTTL:   24 * time.Hour,
			PartialTTL:    30 * time.Minute,
			BackoffWindow: 5 * time.Minute,
			UserTTL:       7 * 24 * time.Hour,
			Redis:         RedisConfig{Addr: "localhost:6379"},
		},
		Database: DatabaseConfig{Path: "data/gallery.db"},
		Warmer: WarmerConfig{
			ItemBudget:     50,
			TimeBudget:     20 * time.Second,
			PerPage:        500,
			Mode:           queue.FastTier.Name,
			FastDelays:     append([]time.Duration(nil), queue.FastTier.Delays...),
			SlowDelays:     append([]time.Duration(nil), queue.SlowTier.Delays...),
			PartialRequeue: 30 * time.Second,
		},
		Discovery: DiscoveryConfig{DocumentsDir: "content"},
		Server:    ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Logging:   LoggingConfig{Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, then clamps the values that have a
// safe range.
func (c *Config) Validate() error {
	c.Cache.Redis.Enabled = c.Cache.Backend == BackendRedis
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.Normalize()
	for _, t := range []queue.Tier{c.FastTier(), c.SlowTier()} {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// Normalize clamps the quota cap, the page size and the item budget.
func (c *Config) Normalize() {
	c.Quota.HourlyCap = quota.ClampCap(c.Quota.HourlyCap, c.Quota.ProviderMax)
	switch {
	case c.Warmer.PerPage < 1:
		c.Warmer.PerPage = 1
	case c.Warmer.PerPage > flickr.MaxPerPage:
		c.Warmer.PerPage = flickr.MaxPerPage
	}
	if c.Warmer.ItemBudget < 1 {
		c.Warmer.ItemBudget = 1
	}
}

// RequireAPIKey fails when no key is configured. Only commands that reach
// the upstream need it.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.API.Key) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// FlickrConfig maps the api section.
func (c *Config) FlickrConfig() flickr.Config {
	return flickr.Config{
		BaseURL: c.API.BaseURL,
		APIKey:  c.API.Key,
		Timeout: c.API.Timeout,
		Retry: flickr.RetryConfig{
			MaxAttempts: c.API.RetryAttempts,
			Delay:       c.API.RetryDelay,
		},
		RequestsPerSecond: c.API.RequestsPerSecond,
		BreakerFailures:   c.API.BreakerFailures,
		BreakerTimeout:    c.API.BreakerTimeout,
	}
}

// QuotaConfig maps the quota section.
func (c *Config) QuotaConfig() quota.Config {
	return quota.Config{
		HourlyCap:   c.Quota.HourlyCap,
		ProviderMax: c.Quota.ProviderMax,
		Window:      c.Quota.Window,
	}
}

// FetcherConfig maps the cache lifetimes used by the fetcher.
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		TTL:           c.Cache.TTL,
		NegativeTTL:   c.Cache.NegativeTTL,
		BackoffWindow: c.Cache.BackoffWindow,
		UserTTL:       c.Cache.UserTTL,
	}
}

// PaginationConfig maps the aggregator settings.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		PerPage:    c.Warmer.PerPage,
		TimeBudget: c.Warmer.TimeBudget,
		TTL:        c.Cache.TTL,
		PartialTTL: c.Cache.PartialTTL,
	}
}

// WarmerConfig maps the cycle settings.
func (c *Config) WarmerConfig() warmer.Config {
	return warmer.Config{
		ItemBudget:     c.Warmer.ItemBudget,
		Sizes:          c.Warmer.Sizes,
		PartialRequeue: c.Warmer.PartialRequeue,
	}
}

// FastTier is the fast backoff tier with configured delays.
func (c *Config) FastTier() queue.Tier {
	return tierWith(queue.FastTier, c.Warmer.FastDelays)
}

// SlowTier is the slow backoff tier with configured delays.
func (c *Config) SlowTier() queue.Tier {
	return tierWith(queue.SlowTier, c.Warmer.SlowDelays)
}

// Tier returns the tier selected by warmer.mode.
func (c *Config) Tier() queue.Tier {
	if c.Warmer.Mode == queue.SlowTier.Name {
		return c.SlowTier()
	}
	return c.FastTier()
}

func tierWith(base queue.Tier, delays []time.Duration) queue.Tier {
	if len(delays) > 0 {
		base.Delays = delays
	}
	return base
}

// LoggingConfig maps the logging section.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
