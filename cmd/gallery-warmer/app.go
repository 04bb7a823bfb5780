package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/internal/sqlite"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/config"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/discovery"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/fetcher"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/flickr"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/gallery"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/pagination"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/quota"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/warmer"
)

// app holds every wired component of one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	db      *sql.DB
	redis   *redis.Client
	backend cache.Backend

	cache     *cache.Manager
	quota     *quota.Tracker
	queue     *queue.Queue
	discovery *discovery.Service
	admin     *warmer.Admin

	// Upstream side; nil without an API key.
	fetcher    *fetcher.Fetcher
	aggregator *pagination.Aggregator
	warmer     *warmer.Warmer
	reader     *gallery.Reader
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	db, err := sqlite.Open(cfg.Database.Path, sqlite.WithMkdirAll())
	if err != nil {
		return err
	}
	a.db = db

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			DB:       cfg.Cache.Redis.DB,
			Password: cfg.Cache.Redis.Password,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.Redis.Addr, err)
		}
		a.backend = cache.NewRedisBackend(a.redis)
	case config.BackendMemory:
		a.backend = cache.NewMemoryBackend()
	default:
		b, err := cache.NewSQLiteBackend(ctx, db)
		if err != nil {
			return err
		}
		a.backend = b
	}

	ns := cfg.Cache.Namespace
	a.cache = cache.NewManager(a.backend, ns, cache.WithLogger(a.component("cache")))
	a.quota = quota.NewTracker(a.backend, ns, cfg.QuotaConfig(), a.component("quota"))

	a.queue, err = queue.New(ctx, db, queue.WithTier(cfg.Tier()), queue.WithLogger(a.component("queue")))
	if err != nil {
		return err
	}
	registry, err := discovery.NewRegistry(ctx, db)
	if err != nil {
		return err
	}
	source := discovery.NewDirSource(cfg.Discovery.DocumentsDir, cfg.Discovery.Extensions...)
	a.discovery = discovery.NewService(source, registry, a.queue, a.component("discovery"))
	a.admin = warmer.NewAdmin(a.discovery, a.queue, a.cache, a.quota, a.component("admin"))

	if cfg.RequireAPIKey() != nil {
		a.logger.Warn().Msg("No API key configured - upstream commands are disabled")
		return nil
	}

	client, err := flickr.New(cfg.FlickrConfig(), a.quota, a.component("flickr"))
	if err != nil {
		return err
	}
	a.fetcher = fetcher.New(a.cache, client, a.quota, cfg.FetcherConfig(), a.component("fetcher"))
	a.aggregator = pagination.New(a.fetcher, a.cache, cfg.PaginationConfig(),
		pagination.WithLogger(a.component("pagination")))
	a.warmer = warmer.New(a.queue, a.fetcher, a.aggregator, a.quota, cfg.WarmerConfig(),
		warmer.WithLogger(a.component("warmer")))
	a.reader = gallery.NewReader(a.fetcher, a.aggregator, a.component("gallery"))
	return nil
}

func (a *app) component(name string) zerolog.Logger {
	return a.logger.With().Str(logging.FieldComponent, name).Logger()
}

// requireUpstream fails for commands that must call Flickr.
func (a *app) requireUpstream() error {
	if a.warmer == nil {
		return config.ErrMissingAPIKey
	}
	return nil
}

// ready checks the database and the cache backend.
func (a *app) ready(ctx context.Context) error {
	return errors.Join(a.db.PingContext(ctx), a.backend.Ping(ctx))
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
