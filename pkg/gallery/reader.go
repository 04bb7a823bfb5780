// Package gallery is the read path used while rendering a gallery block.
//
// The reader only ever consumes what the warmer produced, plus at most one
// direct page fetch per collection view. It never enqueues work and never
// aggregates a full collection; a render must stay fast even when the
// upstream is slow or the hourly budget is spent.
//
// Wrap each render in cache.WithMemo so repeated lookups share one read.
package gallery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// MaxPerPage is Flickr's largest page size.
const MaxPerPage = 500

// Source is the subset of the fetcher the reader uses.
type Source interface {
	PhotoSizes(ctx context.Context, photoID string, sizes []string) (resource.Result[resource.Projection], error)
	PhotoStats(ctx context.Context, photoID string) (resource.Result[resource.Stats], error)
	CachedUser(ctx context.Context, owner string) (resource.Result[string], bool)
	ResolveUser(ctx context.Context, owner string) (resource.Result[string], error)
	CollectionPage(ctx context.Context, ref resource.Ref, userID string, page, perPage int) (resource.Result[resource.Page], error)
}

// Collections returns fully aggregated collections from the cache.
type Collections interface {
	Cached(ctx context.Context, ref resource.Ref) (*resource.Collection, error)
}

// PageResult is one rendered page of a collection. Empty Photos without
// RateLimited means the collection is not available; RateLimited asks the
// caller to retry later.
type PageResult struct {
	Photos      []resource.Photo `json:"photos"`
	Page        int              `json:"page"`
	Pages       int              `json:"pages"`
	Total       int              `json:"total"`
	Title       string           `json:"title,omitempty"`
	RateLimited bool             `json:"rate_limited,omitempty"`

	// FromCollection is true when the page was sliced from a full aggregate.
	FromCollection bool `json:"from_collection,omitempty"`
}

// Reader serves gallery renders.
type Reader struct {
	source      Source
	collections Collections
	logger      zerolog.Logger
}

// NewReader creates a reader.
func NewReader(source Source, collections Collections, logger zerolog.Logger) *Reader {
	return &Reader{source: source, collections: collections, logger: logger}
}

// GetPhotoProjection returns the requested size entries of a photo.
func (r *Reader) GetPhotoProjection(ctx context.Context, photoID string, sizes []string) (resource.Result[resource.Projection], error) {
	return r.source.PhotoSizes(ctx, photoID, sizes)
}

// GetPhotoStats returns a photo's counters.
func (r *Reader) GetPhotoStats(ctx context.Context, photoID string) (resource.Result[resource.Stats], error) {
	return r.source.PhotoStats(ctx, photoID)
}

// GetCollectionPage returns page of an album or photostream. A cached full
// collection is sliced locally; otherwise at most one upstream call is made.
// Albums need no owner resolution. A photostream whose alias is not cached
// spends that call on the lookup and reports RateLimited so the next render
// fetches the page.
func (r *Reader) GetCollectionPage(ctx context.Context, ref resource.Ref, page, perPage int) (*PageResult, error) {
	if !ref.Kind.IsCollection() {
		return nil, fmt.Errorf("%s is not a collection", ref)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	log := r.logger.With().Str(logging.FieldCollection, ref.JobKey()).Int(logging.FieldPage, page).Logger()

	coll, err := r.collections.Cached(ctx, ref)
	if err != nil {
		// Fall through to the direct fetch; a broken entry must not blank the gallery.
		log.Warn().Err(err).Msg("Cached collection unreadable")
	}
	if coll != nil {
		photos, pages := coll.Slice(page, perPage)
		log.Debug().Int("photos", len(photos)).Msg("Page served from aggregated collection")
		return &PageResult{
			Photos:         photos,
			Page:           page,
			Pages:          pages,
			Total:          len(coll.Photos),
			Title:          coll.Title,
			FromCollection: true,
		}, nil
	}

	userID, state, err := r.owner(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch state {
	case ownerPending:
		log.Debug().Msg("Owner resolved - page deferred to next render")
		return &PageResult{Page: page, RateLimited: true}, nil
	case ownerMissing:
		return &PageResult{Page: page}, nil
	}

	res, err := r.source.CollectionPage(ctx, ref, userID, page, perPage)
	if err != nil {
		return nil, err
	}
	switch {
	case res.IsRateLimited():
		log.Debug().Msg("Direct page fetch rate limited")
		return &PageResult{Page: page, RateLimited: true}, nil
	case !res.OK():
		return &PageResult{Page: page}, nil
	}

	p := res.Value
	title := p.Title
	if title == "" && ref.Kind == resource.KindPhotostream {
		title = ref.Owner
	}
	return &PageResult{
		Photos: p.Photos,
		Page:   page,
		Pages:  p.Pages,
		Total:  p.Total,
		Title:  title,
	}, nil
}

type ownerState int

const (
	ownerReady ownerState = iota
	ownerPending
	ownerMissing
)

// owner returns the user id to pass with a page request. Album ids are
// global, so an uncached alias is simply omitted.
func (r *Reader) owner(ctx context.Context, ref resource.Ref) (string, ownerState, error) {
	if user, ok := r.source.CachedUser(ctx, ref.Owner); ok {
		if !user.OK() {
			return "", ownerMissing, nil
		}
		return user.Value, ownerReady, nil
	}
	if ref.Kind == resource.KindAlbum {
		return "", ownerReady, nil
	}

	user, err := r.source.ResolveUser(ctx, ref.Owner)
	if err != nil {
		return "", ownerMissing, err
	}
	if user.OK() || user.IsRateLimited() {
		return "", ownerPending, nil
	}
	return "", ownerMissing, nil
}
