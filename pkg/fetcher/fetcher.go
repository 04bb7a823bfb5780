// Package fetcher resolves single resources (photo info, sizes, stats, user
// ids, album info, collection pages) through the resource cache. Each
// operation reads the cache, honours negative entries and per-resource
// backoff, checks the quota at its own call site, calls Flickr and turns the
// outcome into a resource.Result.
package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/flickr"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

var fetchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gallery_fetch_outcomes_total",
	Help: "Fetch outcomes by resource kind and outcome",
}, []string{"kind", "outcome"}) // outcome: hit, negative_hit, found, not_found, rate_limited, backoff

// API is the subset of *flickr.Client the fetcher calls.
type API interface {
	PhotoInfo(ctx context.Context, photoID string) (*resource.PhotoInfo, error)
	PhotoSizes(ctx context.Context, photoID string) ([]resource.Size, error)
	LookupUser(ctx context.Context, owner string) (string, error)
	PhotosetInfo(ctx context.Context, userID, setID string) (*resource.AlbumInfo, error)
	PhotosetPhotos(ctx context.Context, userID, setID string, page, perPage int) (*resource.Page, error)
	PublicPhotos(ctx context.Context, userID string, page, perPage int) (*resource.Page, error)
}

// Quota is checked before every call.
type Quota interface {
	CanMakeCall(ctx context.Context) bool
}

// Config holds cache lifetimes.
type Config struct {
	// TTL for successful results.
	TTL time.Duration

	// NegativeTTL for not-found sentinels.
	NegativeTTL time.Duration

	// BackoffWindow is how long a resource is left alone after it was rate
	// limited or the server failed.
	BackoffWindow time.Duration

	// UserTTL for resolved user ids.
	UserTTL time.Duration
}

// DefaultConfig returns the default lifetimes.
func DefaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		NegativeTTL:   24 * time.Hour,
		BackoffWindow: 5 * time.Minute,
		UserTTL:       7 * 24 * time.Hour,
	}
}

// Fetcher is the metadata fetcher.
type Fetcher struct {
	cache  *cache.Manager
	api    API
	quota  Quota
	config Config
	logger zerolog.Logger
}

// New creates a fetcher. Zero durations in cfg take the defaults.
func New(c *cache.Manager, api API, q Quota, cfg Config, logger zerolog.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = def.NegativeTTL
	}
	if cfg.BackoffWindow <= 0 {
		cfg.BackoffWindow = def.BackoffWindow
	}
	if cfg.UserTTL <= 0 {
		cfg.UserTTL = def.UserTTL
	}
	return &Fetcher{cache: c, api: api, quota: q, config: cfg, logger: logger}
}

// Cache returns the cache the fetcher writes to.
func (f *Fetcher) Cache() *cache.Manager { return f.cache }

// request describes one cacheable upstream read.
type request[T any] struct {
	kind string
	key  cache.Key
	ttl  time.Duration

	// paged results are not negatively cached on network failure, so a
	// collection is never truncated by a flaky connection.
	paged bool

	// tail marks collection pages after the first. A definitive failure
	// there is reported as NotFound but never negatively cached, so a
	// retry can finish the collection.
	tail bool

	call func(ctx context.Context) (T, error)
}

// lookup returns a cached result, if any. Unreadable entries count as
// misses.
func lookup[T any](ctx context.Context, f *Fetcher, kind string, key cache.Key) (resource.Result[T], bool) {
	entry, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			f.logger.Warn().Err(err).Str("key", key.Path()).Msg("Cache read failed - treating as miss")
		}
		return resource.Result[T]{}, false
	}
	if entry.NotFound {
		fetchOutcomes.WithLabelValues(kind, "negative_hit").Inc()
		return resource.NotFound[T](), true
	}
	var v T
	if err := entry.Decode(&v); err != nil {
		f.logger.Warn().Err(err).Str("key", key.Path()).Msg("Discarding undecodable cache entry")
		return resource.Result[T]{}, false
	}
	fetchOutcomes.WithLabelValues(kind, "hit").Inc()
	return resource.Found(v), true
}

// run is the common fetch path. The returned error is non-nil only for
// cancellation or failures the client did not classify.
func run[T any](ctx context.Context, f *Fetcher, req request[T]) (resource.Result[T], error) {
	if res, ok := lookup[T](ctx, f, req.kind, req.key); ok {
		return res, nil
	}

	if f.cache.InBackoff(ctx, req.key) {
		fetchOutcomes.WithLabelValues(req.kind, "backoff").Inc()
		f.logger.Debug().Str("key", req.key.Path()).Msg("Resource in backoff window")
		return resource.RateLimited[T](), nil
	}

	if !f.quota.CanMakeCall(ctx) {
		fetchOutcomes.WithLabelValues(req.kind, "rate_limited").Inc()
		return resource.RateLimited[T](), nil
	}

	v, err := req.call(ctx)
	if err == nil {
		if perr := f.cache.Put(ctx, req.key, v, req.ttl); perr != nil {
			f.logger.Warn().Err(perr).Str("key", req.key.Path()).Msg("Cache write failed")
		}
		fetchOutcomes.WithLabelValues(req.kind, "found").Inc()
		return resource.Found(v), nil
	}

	class := flickr.ClassOf(err)
	log := f.logger.With().
		Str("key", req.key.Path()).
		Str(logging.FieldErrorClass, string(class)).
		Err(err).
		Logger()

	switch {
	case class == flickr.ErrorClassRateLimit && errors.Is(err, flickr.ErrQuotaExhausted):
		// The local budget ran out between our check and the client's.
		fetchOutcomes.WithLabelValues(req.kind, "rate_limited").Inc()
		return resource.RateLimited[T](), nil

	case class == flickr.ErrorClassRateLimit, class == flickr.ErrorClassServer,
		class == flickr.ErrorClassNetwork && req.paged:
		f.backoff(ctx, req.key)
		log.Warn().Msg("Upstream unavailable - backing off")
		fetchOutcomes.WithLabelValues(req.kind, "rate_limited").Inc()
		return resource.RateLimited[T](), nil

	case class == flickr.ErrorClassNetwork,
		class == flickr.ErrorClassClient,
		class == flickr.ErrorClassAPI,
		class == flickr.ErrorClassMalformed:
		if req.tail {
			log.Warn().Msg("Collection page unavailable - not cached")
			fetchOutcomes.WithLabelValues(req.kind, "not_found").Inc()
			return resource.NotFound[T](), nil
		}
		if perr := f.cache.PutNotFound(ctx, req.key, f.config.NegativeTTL); perr != nil {
			log.Warn().AnErr("cache_error", perr).Msg("Negative cache write failed")
		}
		log.Debug().Msg("Resource unavailable - negatively cached")
		fetchOutcomes.WithLabelValues(req.kind, "not_found").Inc()
		return resource.NotFound[T](), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return resource.Result[T]{}, ctxErr
	}
	log.Error().Msg("Unclassified fetch failure")
	return resource.Result[T]{}, err
}

func (f *Fetcher) backoff(ctx context.Context, key cache.Key) {
	if err := f.cache.MarkBackoff(ctx, key, f.config.BackoffWindow); err != nil {
		f.logger.Warn().Err(err).Str("key", key.Path()).Msg("Failed to install backoff marker")
	}
}
