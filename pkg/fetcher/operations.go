package fetcher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// Keys shared with the aggregator and the gallery reader.

// PhotoInfoKey is the cache key of a photo's metadata.
func PhotoInfoKey(photoID string) cache.Key {
	return cache.Key{Type: cache.TypePhotoInfo, ID: photoID}
}

// SizesKey is the canonical all-sizes key of a photo.
func SizesKey(photoID string) cache.Key {
	return cache.Key{Type: cache.TypePhotoSizes, ID: photoID}
}

// ProjectionKey is the key of a size projection.
func ProjectionKey(photoID string, sizes []string) cache.Key {
	return cache.Key{Type: cache.TypePhotoSizes, ID: photoID, Projection: sizes}
}

// StatsKey is the cache key of a photo's counters.
func StatsKey(photoID string) cache.Key {
	return cache.Key{Type: cache.TypePhotoStats, ID: photoID}
}

// UserKey is the cache key of a resolved owner.
func UserKey(owner string) cache.Key {
	return cache.Key{Type: cache.TypeUser, ID: owner}
}

// AlbumInfoKey is the cache key of an album's metadata.
func AlbumInfoKey(userID, setID string) cache.Key {
	return cache.Key{Type: cache.TypeAlbumInfo, ID: userID + ":" + setID}
}

// PageKey is the cache key of one collection page.
func PageKey(ref resource.Ref, page, perPage int) cache.Key {
	return cache.Key{
		Type: cache.TypePage,
		ID:   ref.JobKey() + ":p" + strconv.Itoa(page) + ":n" + strconv.Itoa(perPage),
	}
}

// PhotoInfo returns a photo's metadata.
func (f *Fetcher) PhotoInfo(ctx context.Context, photoID string) (resource.Result[resource.PhotoInfo], error) {
	return run(ctx, f, request[resource.PhotoInfo]{
		kind: "photo_info",
		key:  PhotoInfoKey(photoID),
		ttl:  f.config.TTL,
		call: func(ctx context.Context) (resource.PhotoInfo, error) {
			info, err := f.api.PhotoInfo(ctx, photoID)
			if err != nil {
				return resource.PhotoInfo{}, err
			}
			return *info, nil
		},
	})
}

// PhotoSizes returns the requested size variants of a photo. No sizes means
// all of them. A cached projection wins; otherwise the canonical size list
// (from getSizes or a harvested collection page) is projected and the
// projection cached.
func (f *Fetcher) PhotoSizes(ctx context.Context, photoID string, sizes []string) (resource.Result[resource.Projection], error) {
	projected := len(cache.ProjectionHash(sizes)) > 0
	if projected {
		if res, ok := lookup[resource.Projection](ctx, f, "photo_sizes", ProjectionKey(photoID, sizes)); ok {
			return res, nil
		}
	}

	all, err := run(ctx, f, request[[]resource.Size]{
		kind: "photo_sizes",
		key:  SizesKey(photoID),
		ttl:  f.config.TTL,
		call: func(ctx context.Context) ([]resource.Size, error) {
			return f.api.PhotoSizes(ctx, photoID)
		},
	})
	if err != nil || !all.OK() {
		return resource.Result[resource.Projection]{Status: all.Status}, err
	}

	proj := resource.Project(photoID, all.Value, sizes)
	if projected {
		if err := f.cache.Put(ctx, ProjectionKey(photoID, sizes), proj, f.config.TTL); err != nil {
			f.logger.Warn().Err(err).Str(logging.FieldPhotoID, photoID).Msg("Failed to cache size projection")
		}
	}
	return resource.Found(proj), nil
}

// PhotoStats returns a photo's counters, from a harvested entry when one
// exists, else derived from its metadata.
func (f *Fetcher) PhotoStats(ctx context.Context, photoID string) (resource.Result[resource.Stats], error) {
	if res, ok := lookup[resource.Stats](ctx, f, "photo_stats", StatsKey(photoID)); ok {
		return res, nil
	}

	info, err := f.PhotoInfo(ctx, photoID)
	if err != nil || !info.OK() {
		return resource.Result[resource.Stats]{Status: info.Status}, err
	}

	if err := f.cache.Put(ctx, StatsKey(photoID), info.Value.Stats, f.config.TTL); err != nil {
		f.logger.Warn().Err(err).Str(logging.FieldPhotoID, photoID).Msg("Failed to cache photo stats")
	}
	return resource.Found(info.Value.Stats), nil
}

// ResolveUser maps a path alias to an NSID. NSIDs resolve to themselves.
func (f *Fetcher) ResolveUser(ctx context.Context, owner string) (resource.Result[string], error) {
	if resource.IsNSID(owner) {
		return resource.Found(owner), nil
	}
	return run(ctx, f, request[string]{
		kind: "user",
		key:  UserKey(owner),
		ttl:  f.config.UserTTL,
		call: func(ctx context.Context) (string, error) {
			return f.api.LookupUser(ctx, owner)
		},
	})
}

// CachedUser resolves owner from the cache only. ok is false when an
// upstream lookup would be needed.
func (f *Fetcher) CachedUser(ctx context.Context, owner string) (res resource.Result[string], ok bool) {
	if resource.IsNSID(owner) {
		return resource.Found(owner), true
	}
	return lookup[string](ctx, f, "user", UserKey(owner))
}

// AlbumInfo returns an album's title, description and count.
func (f *Fetcher) AlbumInfo(ctx context.Context, userID, setID string) (resource.Result[resource.AlbumInfo], error) {
	return run(ctx, f, request[resource.AlbumInfo]{
		kind: "album_info",
		key:  AlbumInfoKey(userID, setID),
		ttl:  f.config.TTL,
		call: func(ctx context.Context) (resource.AlbumInfo, error) {
			info, err := f.api.PhotosetInfo(ctx, userID, setID)
			if err != nil {
				return resource.AlbumInfo{}, err
			}
			return *info, nil
		},
	})
}

// CollectionPage fetches one page of an album or photostream. userID must
// already be resolved.
func (f *Fetcher) CollectionPage(ctx context.Context, ref resource.Ref, userID string, page, perPage int) (resource.Result[resource.Page], error) {
	if !ref.Kind.IsCollection() {
		return resource.Result[resource.Page]{}, fmt.Errorf("%s is not a collection", ref)
	}
	return run(ctx, f, request[resource.Page]{
		kind:  "page",
		key:   PageKey(ref, page, perPage),
		ttl:   f.config.TTL,
		paged: true,
		tail:  page > 1,
		call: func(ctx context.Context) (resource.Page, error) {
			var (
				p   *resource.Page
				err error
			)
			if ref.Kind == resource.KindAlbum {
				p, err = f.api.PhotosetPhotos(ctx, userID, ref.ID, page, perPage)
			} else {
				p, err = f.api.PublicPhotos(ctx, userID, page, perPage)
			}
			if err != nil {
				return resource.Page{}, err
			}
			p.Ref = ref
			return *p, nil
		},
	})
}

// HarvestPhotos writes the sizes and stats carried by collection items into
// their per-photo entries, so later lookups need no call. Returns the number
// of entries written.
func (f *Fetcher) HarvestPhotos(ctx context.Context, photos []resource.Photo) int {
	written := 0
	for _, p := range photos {
		if p.ID == "" {
			continue
		}
		if len(p.Sizes) > 0 {
			if err := f.cache.Put(ctx, SizesKey(p.ID), p.Sizes, f.config.TTL); err != nil {
				f.logger.Warn().Err(err).Str(logging.FieldPhotoID, p.ID).Msg("Failed to harvest sizes")
			} else {
				written++
			}
		}
		if p.Stats != nil {
			if err := f.cache.Put(ctx, StatsKey(p.ID), *p.Stats, f.config.TTL); err != nil {
				f.logger.Warn().Err(err).Str(logging.FieldPhotoID, p.ID).Msg("Failed to harvest stats")
			} else {
				written++
			}
		}
	}
	return written
}
