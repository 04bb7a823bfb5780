package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

var aggregateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gallery_aggregate_outcomes_total",
	Help: "Collection aggregation outcomes by state",
}, []string{"state"})

// State is the terminal state of one FetchAll invocation.
type State string

const (
	StateComplete    State = "complete"
	StatePartial     State = "partial"
	StateRateLimited State = "rate_limited"
	StateNotFound    State = "not_found"

	// StateFailed means a page after the first failed definitively. The
	// progress so far is kept as a snapshot and nothing is cached as final.
	StateFailed State = "failed"
)

// Source is what the aggregator needs from the metadata fetcher.
type Source interface {
	ResolveUser(ctx context.Context, owner string) (resource.Result[string], error)
	AlbumInfo(ctx context.Context, userID, setID string) (resource.Result[resource.AlbumInfo], error)
	CollectionPage(ctx context.Context, ref resource.Ref, userID string, page, perPage int) (resource.Result[resource.Page], error)
	HarvestPhotos(ctx context.Context, photos []resource.Photo) int
}

// Config holds aggregator configuration.
type Config struct {
	// PerPage is the page size requested upstream (max 500).
	PerPage int

	// TimeBudget bounds the wall-clock time of one FetchAll.
	TimeBudget time.Duration

	// TTL of a complete collection.
	TTL time.Duration

	// PartialTTL of a snapshot.
	PartialTTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PerPage:    500,
		TimeBudget: 20 * time.Second,
		TTL:        24 * time.Hour,
		PartialTTL: 30 * time.Minute,
	}
}

// PartialAggregate is the resumable progress of an unfinished aggregation.
type PartialAggregate struct {
	Ref           resource.Ref     `json:"ref"`
	UserID        string           `json:"user_id"`
	PerPage       int              `json:"per_page"`
	Title         string           `json:"title,omitempty"`
	Photos        []resource.Photo `json:"photos"`
	PagesFetched  int              `json:"pages_fetched"`
	ResumePage    int              `json:"resume_page"`
	TotalPages    int              `json:"total_pages"`
	TotalExpected int              `json:"total_expected"`
	RateLimited   bool             `json:"rate_limited"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Outcome reports one FetchAll invocation.
type Outcome struct {
	State State

	// Collection is set when State is complete.
	Collection *resource.Collection

	// PagesFetched counts pages fetched so far, across invocations.
	PagesFetched  int
	ResumePage    int
	TotalPages    int
	TotalExpected int
	HasMore       bool
	RateLimited   bool
}

// CollectionKey is the cache key of a complete collection.
func CollectionKey(ref resource.Ref) cache.Key {
	return cache.Key{Type: cache.TypeCollection, ID: ref.JobKey()}
}

// PartialKey is the cache key of a snapshot.
func PartialKey(ref resource.Ref) cache.Key {
	return cache.Key{Type: cache.TypePartial, ID: ref.JobKey()}
}

// Aggregator is the resumable pagination aggregator.
type Aggregator struct {
	source Source
	cache  *cache.Manager
	config Config
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock injects the time source used for the budget.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// New creates an aggregator. Zero fields in cfg take the defaults.
func New(source Source, c *cache.Manager, cfg Config, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if cfg.PerPage <= 0 || cfg.PerPage > def.PerPage {
		cfg.PerPage = def.PerPage
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = def.TimeBudget
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.PartialTTL <= 0 {
		cfg.PartialTTL = def.PartialTTL
	}
	a := &Aggregator{source: source, cache: c, config: cfg, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cached returns the complete collection for ref, or nil.
func (a *Aggregator) Cached(ctx context.Context, ref resource.Ref) (*resource.Collection, error) {
	var c resource.Collection
	ok, err := a.read(ctx, CollectionKey(ref), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// Snapshot returns the saved progress for ref, or nil.
func (a *Aggregator) Snapshot(ctx context.Context, ref resource.Ref) (*PartialAggregate, error) {
	var p PartialAggregate
	ok, err := a.read(ctx, PartialKey(ref), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (a *Aggregator) read(ctx context.Context, key cache.Key, v any) (bool, error) {
	entry, err := a.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		if errors.Is(err, cache.ErrInvalidEntry) {
			return false, nil
		}
		return false, err
	}
	if entry.NotFound {
		return false, nil
	}
	if err := entry.Decode(v); err != nil {
		a.logger.Warn().Err(err).Str("key", key.Path()).Msg("Discarding undecodable entry")
		return false, nil
	}
	return true, nil
}

// FetchAll fetches ref until it is complete, a page is rate limited or the
// time budget runs out. The error is non-nil only for infrastructure
// failures.
func (a *Aggregator) FetchAll(ctx context.Context, ref resource.Ref) (*Outcome, error) {
	if !ref.Kind.IsCollection() {
		return nil, fmt.Errorf("%s is not a collection", ref)
	}
	log := a.logger.With().Str(logging.FieldCollection, ref.JobKey()).Logger()

	if c, err := a.Cached(ctx, ref); err != nil {
		return nil, err
	} else if c != nil {
		return a.finish(StateComplete, &Outcome{
			State:         StateComplete,
			Collection:    c,
			TotalExpected: c.Total,
		}), nil
	}

	deadline := a.now().Add(a.config.TimeBudget)

	snap, err := a.Snapshot(ctx, ref)
	if err != nil {
		return nil, err
	}
	if snap != nil && (snap.PerPage != a.config.PerPage || snap.Ref != ref || snap.ResumePage < 1) {
		log.Info().Int("snapshot_per_page", snap.PerPage).Msg("Discarding incompatible snapshot")
		a.dropSnapshot(ctx, ref)
		snap = nil
	}

	if snap == nil {
		user, err := a.source.ResolveUser(ctx, ref.Owner)
		if err != nil {
			return nil, err
		}
		switch user.Status {
		case resource.StatusNotFound:
			return a.finish(StateNotFound, &Outcome{State: StateNotFound}), nil
		case resource.StatusRateLimited:
			return a.finish(StateRateLimited, &Outcome{State: StateRateLimited, HasMore: true, RateLimited: true, ResumePage: 1}), nil
		}
		snap = &PartialAggregate{Ref: ref, UserID: user.Value, PerPage: a.config.PerPage, ResumePage: 1}
	} else {
		log.Debug().Int("resume_page", snap.ResumePage).Int("photos", len(snap.Photos)).Msg("Resuming collection")
	}

	fetched := 0
	for {
		if fetched > 0 && !a.now().Before(deadline) {
			snap.RateLimited = false
			if err := a.save(ctx, snap); err != nil {
				return nil, err
			}
			log.Info().
				Int("pages_fetched", snap.PagesFetched).
				Int("resume_page", snap.ResumePage).
				Int("total_pages", snap.TotalPages).
				Msg("Time budget exhausted - collection saved as partial")
			return a.finish(StatePartial, outcomeFrom(StatePartial, snap)), nil
		}

		page := snap.ResumePage
		res, err := a.source.CollectionPage(ctx, ref, snap.UserID, page, snap.PerPage)
		if err != nil {
			return nil, err
		}

		switch res.Status {
		case resource.StatusRateLimited:
			snap.RateLimited = true
			if snap.PagesFetched > 0 {
				if err := a.save(ctx, snap); err != nil {
					return nil, err
				}
			}
			log.Warn().Int(logging.FieldPage, page).Msg("Collection page rate limited")
			return a.finish(StateRateLimited, outcomeFrom(StateRateLimited, snap)), nil

		case resource.StatusNotFound:
			if snap.PagesFetched == 0 {
				a.dropSnapshot(ctx, ref)
				return a.finish(StateNotFound, &Outcome{State: StateNotFound}), nil
			}
			if page > snap.TotalPages || len(snap.Photos) >= snap.TotalExpected {
				// The collection shrank under us; what we have is all there is.
				log.Info().Int(logging.FieldPage, page).Msg("Page past the end of the collection")
				return a.complete(ctx, snap)
			}
			snap.RateLimited = false
			if err := a.save(ctx, snap); err != nil {
				return nil, err
			}
			log.Warn().
				Int(logging.FieldPage, page).
				Int("photos", len(snap.Photos)).
				Int("total_expected", snap.TotalExpected).
				Msg("Collection page unavailable - progress kept, collection not cached")
			return a.finish(StateFailed, outcomeFrom(StateFailed, snap)), nil
		}

		p := res.Value
		fetched++
		snap.Photos = append(snap.Photos, p.Photos...)
		snap.PagesFetched++
		snap.ResumePage = page + 1
		snap.TotalPages = p.Pages
		snap.TotalExpected = p.Total
		if p.Title != "" {
			snap.Title = p.Title
		}

		if page >= p.Pages || len(p.Photos) == 0 {
			return a.complete(ctx, snap)
		}
	}
}

func (a *Aggregator) complete(ctx context.Context, snap *PartialAggregate) (*Outcome, error) {
	ref := snap.Ref
	c := &resource.Collection{
		Ref:       ref,
		UserID:    snap.UserID,
		Title:     snap.Title,
		Total:     snap.TotalExpected,
		Photos:    snap.Photos,
		FetchedAt: a.now(),
	}
	if c.Total < len(c.Photos) {
		c.Total = len(c.Photos)
	}

	if ref.Kind == resource.KindAlbum {
		info, err := a.source.AlbumInfo(ctx, snap.UserID, ref.ID)
		if err != nil {
			return nil, err
		}
		if info.OK() {
			c.Title = info.Value.Title
			c.Description = info.Value.Description
		}
	} else {
		c.Title = ref.Owner
	}

	if err := a.cache.Put(ctx, CollectionKey(ref), c, a.config.TTL); err != nil {
		return nil, fmt.Errorf("store collection %s: %w", ref, err)
	}
	harvested := a.source.HarvestPhotos(ctx, c.Photos)
	a.dropSnapshot(ctx, ref)

	a.logger.Info().
		Str(logging.FieldCollection, ref.JobKey()).
		Int("photos", len(c.Photos)).
		Int("pages", snap.PagesFetched).
		Int("harvested", harvested).
		Msg("Collection complete")

	out := outcomeFrom(StateComplete, snap)
	out.Collection = c
	out.HasMore = false
	out.RateLimited = false
	return a.finish(StateComplete, out), nil
}

func (a *Aggregator) save(ctx context.Context, snap *PartialAggregate) error {
	snap.UpdatedAt = a.now()
	if err := a.cache.Put(ctx, PartialKey(snap.Ref), snap, a.config.PartialTTL); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Ref, err)
	}
	return nil
}

func (a *Aggregator) dropSnapshot(ctx context.Context, ref resource.Ref) {
	if err := a.cache.Delete(ctx, PartialKey(ref)); err != nil {
		a.logger.Warn().Err(err).Str(logging.FieldCollection, ref.JobKey()).Msg("Failed to delete snapshot")
	}
}

func (a *Aggregator) finish(state State, out *Outcome) *Outcome {
	aggregateOutcomes.WithLabelValues(string(state)).Inc()
	return out
}

func outcomeFrom(state State, snap *PartialAggregate) *Outcome {
	return &Outcome{
		State:         state,
		PagesFetched:  snap.PagesFetched,
		ResumePage:    snap.ResumePage,
		TotalPages:    snap.TotalPages,
		TotalExpected: snap.TotalExpected,
		HasMore:       state != StateComplete,
		RateLimited:   snap.RateLimited,
	}
}
