package warmer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/discovery"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/queue"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/quota"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// Admin is the administrative surface: registry rebuilds, manual enqueues,
// bulk mode and cache clearing.
type Admin struct {
	discovery *discovery.Service
	queue     *queue.Queue
	cache     *cache.Manager
	quota     *quota.Tracker
	logger    zerolog.Logger
}

// NewAdmin creates the admin surface.
func NewAdmin(d *discovery.Service, q *queue.Queue, c *cache.Manager, t *quota.Tracker, logger zerolog.Logger) *Admin {
	return &Admin{discovery: d, queue: q, cache: c, quota: t, logger: logger}
}

// RebuildKnownResources rescans all documents and reseeds the queue.
// Returns the number of distinct resources found.
func (a *Admin) RebuildKnownResources(ctx context.Context) (int, error) {
	if _, err := a.discovery.RebuildRegistry(ctx); err != nil {
		return 0, err
	}
	jobs, err := a.discovery.Jobs(ctx, false)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

// EnqueueResource schedules one photo id or resource URL for immediate
// warming, overriding any backoff the job is serving. Returns false for
// input that names no resource.
func (a *Admin) EnqueueResource(ctx context.Context, idOrURL string) (bool, error) {
	ref, ok := resource.ParseURL(idOrURL)
	if !ok {
		return false, nil
	}
	job, err := queue.NewJob(ref, idOrURL)
	if err != nil {
		return false, nil
	}
	if err := a.queue.EnqueueNow(ctx, job); err != nil {
		return false, err
	}
	a.logger.Info().Str(logging.FieldJobKey, job.Key).Msg("Resource enqueued")
	return true, nil
}

// ResetQueueToBulkMode drops every photo job and reseeds only the
// collections; their pages carry the photo data anyway.
func (a *Admin) ResetQueueToBulkMode(ctx context.Context) (int, error) {
	dropped, err := a.queue.DeleteByType(ctx, resource.KindPhoto)
	if err != nil {
		return 0, err
	}
	n, err := a.discovery.Reseed(ctx, true)
	if err != nil {
		return 0, err
	}
	a.logger.Info().Int("dropped_photo_jobs", dropped).Int("collection_jobs", n).Msg("Queue reset to bulk mode")
	return n, nil
}

// ClearCache invalidates the whole cache and reseeds the queue so every
// resource is warmed again. Returns the new cache version.
func (a *Admin) ClearCache(ctx context.Context) (int64, error) {
	v, err := a.cache.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := a.discovery.Reseed(ctx, false); err != nil {
		return v, fmt.Errorf("cache cleared (version %d) but reseed failed: %w", v, err)
	}
	return v, nil
}

// Status is a point-in-time view for operators.
type Status struct {
	Quota        *quota.State `json:"quota"`
	Queue        *queue.Stats `json:"queue"`
	CacheVersion int64        `json:"cache_version"`
}

// Status gathers quota, queue and cache state.
func (a *Admin) Status(ctx context.Context) (*Status, error) {
	qs, err := a.quota.State(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	v, err := a.cache.Version(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{Quota: qs, Queue: stats, CacheVersion: v}, nil
}
