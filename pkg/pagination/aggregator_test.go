package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radialmonster/flickr-justified-block-sub001/internal/testutil"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/fetcher"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/flickr"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/logging"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/quota"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

const owner = "12345678@N02"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tickingSource advances the clock by step on every page fetch and calls
// after once the page is back.
type tickingSource struct {
	*fetcher.Fetcher
	clock *clock
	step  time.Duration
	after func(page int)
}

func (s *tickingSource) CollectionPage(ctx context.Context, ref resource.Ref, userID string, page, perPage int) (resource.Result[resource.Page], error) {
	s.clock.Advance(s.step)
	res, err := s.Fetcher.CollectionPage(ctx, ref, userID, page, perPage)
	if s.after != nil {
		s.after(page)
	}
	return res, err
}

type harness struct {
	mock    *testutil.MockFlickr
	cache   *cache.Manager
	fetcher *fetcher.Fetcher
	source  *tickingSource
	agg     *Aggregator
	clock   *clock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	mock := testutil.NewMockFlickr()
	t.Cleanup(mock.Close)

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := cache.NewMemoryBackend().WithClock(clk.Now)
	mgr := cache.NewManager(backend, "test", cache.WithClock(clk.Now))
	tracker := quota.NewTracker(backend, "test", quota.Config{HourlyCap: 1000}, zerolog.Nop()).WithClock(clk.Now)

	fcfg := flickr.DefaultConfig("test-key")
	fcfg.BaseURL = mock.URL()
	fcfg.RequestsPerSecond = 0
	client, err := flickr.New(fcfg, tracker, zerolog.Nop())
	require.NoError(t, err)
	client.SetSleep(func(context.Context, time.Duration) error { return nil })

	f := fetcher.New(mgr, client, tracker, fetcher.Config{}, zerolog.Nop())
	src := &tickingSource{Fetcher: f, clock: clk, step: time.Second}

	return &harness{
		mock:    mock,
		cache:   mgr,
		fetcher: f,
		source:  src,
		agg:     New(src, mgr, cfg, WithClock(clk.Now)),
		clock:   clk,
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.AddAlbum(owner, "721", "Trip", 12, 100)
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)
	assert.False(t, out.HasMore)
	require.NotNil(t, out.Collection)
	assert.Len(t, out.Collection.Photos, 12)
	assert.Equal(t, "Trip", out.Collection.Title)
	assert.Equal(t, "About Trip", out.Collection.Description)
	assert.Equal(t, owner, out.Collection.UserID)

	cached, err := h.agg.Cached(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Len(t, cached.Photos, 12)

	// second run is served from the collection entry
	calls := h.mock.Calls("")
	out, err = h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)
	assert.Equal(t, calls, h.mock.Calls(""))
}

func TestFetchAll_TimeBudgetThenResume(t *testing.T) {
	h := newHarness(t, Config{PerPage: 500, TimeBudget: 20 * time.Second})
	ids := h.mock.AddAlbum(owner, "721", "Big", 1200, 1000)
	h.source.step = 11 * time.Second
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatePartial, out.State)
	assert.True(t, out.HasMore)
	assert.Equal(t, 2, out.PagesFetched)
	assert.Equal(t, 3, out.ResumePage)
	assert.Equal(t, 3, out.TotalPages)
	assert.Equal(t, 1200, out.TotalExpected)
	assert.Nil(t, out.Collection)

	snap, err := h.agg.Snapshot(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Photos, 1000)
	assert.Equal(t, 3, snap.ResumePage)

	cached, err := h.agg.Cached(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, cached, "partial results are never final")

	out, err = h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)
	require.NotNil(t, out.Collection)
	require.Len(t, out.Collection.Photos, 1200)
	for i, p := range out.Collection.Photos {
		require.Equal(t, ids[i], p.ID, "order preserved")
	}
	assert.Equal(t, 3, h.mock.Calls(flickr.MethodPhotosetPhotos), "resume does not refetch pages")

	snap, err = h.agg.Snapshot(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, snap)

	// harvested sizes answer per-photo lookups
	sizes, err := h.fetcher.PhotoSizes(ctx, ids[0], []string{"Large"})
	require.NoError(t, err)
	require.True(t, sizes.OK())
	assert.Equal(t, testutil.SourceURL(ids[0], "l"), sizes.Value.Sizes[0].Source)
	assert.Equal(t, 0, h.mock.Calls(flickr.MethodPhotoSizes))
}

func TestFetchAll_RateLimitedPageIsNotCached(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.AddAlbum(owner, "721", "Big", 1200, 1000)
	h.source.after = func(page int) {
		if page == 1 {
			h.mock.SetStatus(flickr.MethodPhotosetPhotos, http.StatusTooManyRequests)
		}
	}
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateRateLimited, out.State)
	assert.True(t, out.RateLimited)
	assert.True(t, out.HasMore)
	assert.Equal(t, 1, out.PagesFetched)
	assert.Equal(t, 2, out.ResumePage)

	_, err = h.cache.Get(ctx, fetcher.PageKey(ref, 2, 500))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	snap, err := h.agg.Snapshot(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.RateLimited)
	assert.Len(t, snap.Photos, 500)

	h.source.after = nil
	h.mock.ClearOverride(flickr.MethodPhotosetPhotos)
	h.clock.Advance(6 * time.Minute) // past the page backoff

	out, err = h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)
	assert.Len(t, out.Collection.Photos, 1200)
	assert.Equal(t, 4, h.mock.Calls(flickr.MethodPhotosetPhotos))
}

func TestFetchAll_NotFound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	out, err := h.agg.FetchAll(ctx, resource.AlbumRef(owner, "404"))
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, out.State)
	assert.False(t, out.HasMore)

	out, err = h.agg.FetchAll(ctx, resource.PhotostreamRef("ghost"))
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, out.State)
}

func TestFetchAll_UserResolutionRateLimited(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.SetStatus(flickr.MethodLookupUser, http.StatusTooManyRequests)
	ctx := context.Background()

	out, err := h.agg.FetchAll(ctx, resource.PhotostreamRef("someone"))
	require.NoError(t, err)
	assert.Equal(t, StateRateLimited, out.State)
	assert.True(t, out.RateLimited)
	assert.Equal(t, 0, h.mock.Calls(flickr.MethodPublicPhotos))
}

func TestFetchAll_PhotostreamAlias(t *testing.T) {
	h := newHarness(t, Config{PerPage: 2})
	h.mock.AddUser("someone", owner)
	h.mock.AddPhotostream(owner, 5, 300)
	ctx := context.Background()

	out, err := h.agg.FetchAll(ctx, resource.PhotostreamRef("someone"))
	require.NoError(t, err)
	require.Equal(t, StateComplete, out.State)
	assert.Len(t, out.Collection.Photos, 5)
	assert.Equal(t, "someone", out.Collection.Title)
	assert.Equal(t, owner, out.Collection.UserID)
	assert.Equal(t, 3, out.PagesFetched)
}

func TestFetchAll_DiscardsSnapshotWithOtherPageSize(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.AddAlbum(owner, "721", "Trip", 12, 100)
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	stale := PartialAggregate{
		Ref:          ref,
		UserID:       owner,
		PerPage:      5,
		Photos:       []resource.Photo{{ID: "stale"}},
		PagesFetched: 1,
		ResumePage:   2,
	}
	require.NoError(t, h.cache.Put(ctx, PartialKey(ref), stale, time.Hour))

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StateComplete, out.State)
	assert.Len(t, out.Collection.Photos, 12)
	assert.Equal(t, "100", out.Collection.Photos[0].ID)
}

func TestFetchAll_ExpiredSnapshotRestartsFromPageOne(t *testing.T) {
	h := newHarness(t, Config{PerPage: 500, TimeBudget: 20 * time.Second, PartialTTL: time.Minute})
	h.mock.AddAlbum(owner, "721", "Big", 1200, 1000)
	h.source.step = 11 * time.Second
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StatePartial, out.State)

	h.clock.Advance(2 * time.Minute)
	h.source.step = time.Second

	out, err = h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StateComplete, out.State)
	assert.Equal(t, 3, out.PagesFetched)
	assert.Len(t, out.Collection.Photos, 1200)
}

func TestFetchAll_RejectsPhoto(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.agg.FetchAll(context.Background(), resource.PhotoRef("1"))
	assert.Error(t, err)
}

func TestFetchAll_FailedLaterPageKeepsProgress(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ids := h.mock.AddAlbum(owner, "721", "Big", 1200, 1000)
	h.source.after = func(page int) {
		if page == 1 {
			h.mock.SetResponses(flickr.MethodPhotosetPhotos, testutil.MockResponse{Body: "{not json"})
		}
	}
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.True(t, out.HasMore)
	assert.False(t, out.RateLimited)
	assert.Nil(t, out.Collection)
	assert.Equal(t, 2, out.ResumePage)
	assert.Equal(t, 1200, out.TotalExpected)

	cached, err := h.agg.Cached(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, cached, "a truncated collection is never cached as final")

	_, err = h.cache.Get(ctx, fetcher.PageKey(ref, 2, 500))
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "the failed page is not negatively cached")

	snap, err := h.agg.Snapshot(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Photos, 500)
	assert.Equal(t, 2, snap.ResumePage)

	h.source.after = nil
	h.mock.ClearOverride(flickr.MethodPhotosetPhotos)

	out, err = h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, StateComplete, out.State)
	require.Len(t, out.Collection.Photos, 1200)
	assert.Equal(t, ids[1199], out.Collection.Photos[1199].ID)
	assert.Equal(t, 4, h.mock.Calls(flickr.MethodPhotosetPhotos), "resumed at the failed page")
}

func TestFetchAll_FirstPageFailureIsNotFound(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.AddAlbum(owner, "721", "Trip", 12, 100)
	h.mock.SetFail(flickr.MethodPhotosetPhotos, 1, "Photoset not found")
	ctx := context.Background()
	ref := resource.AlbumRef(owner, "721")

	out, err := h.agg.FetchAll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, out.State)

	entry, err := h.cache.Get(ctx, fetcher.PageKey(ref, 1, 500))
	require.NoError(t, err)
	assert.True(t, entry.NotFound)
}

func TestFetchAll_LogsCollectionField(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.mock.AddAlbum(owner, "721", "Trip", 3, 100)
	var buf bytes.Buffer
	h.agg.logger = zerolog.New(&buf)
	ref := resource.AlbumRef(owner, "721")

	_, err := h.agg.FetchAll(context.Background(), ref)
	require.NoError(t, err)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "Collection complete" {
			found = true
			assert.Equal(t, ref.JobKey(), entry[logging.FieldCollection])
		}
	}
	assert.True(t, found)
}
