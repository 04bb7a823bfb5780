package fetcher

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radialmonster/flickr-justified-block-sub001/internal/testutil"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/cache"
	"github.com/radialmonster/flickr-justified-block-sub001/pkg/flickr"
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

type harness struct {
	mock    *testutil.MockFlickr
	backend *cache.MemoryBackend
	cache   *cache.Manager
	tracker *quota.Tracker
	fetcher *Fetcher
	clock   *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := testutil.NewMockFlickr()
	t.Cleanup(mock.Close)

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := cache.NewMemoryBackend().WithClock(clk.Now)
	mgr := cache.NewManager(backend, "test", cache.WithClock(clk.Now))
	tracker := quota.NewTracker(backend, "test", quota.Config{HourlyCap: 1000}, zerolog.Nop()).WithClock(clk.Now)

	cfg := flickr.DefaultConfig("test-key")
	cfg.BaseURL = mock.URL()
	cfg.RequestsPerSecond = 0
	cfg.BreakerFailures = 100
	client, err := flickr.New(cfg, tracker, zerolog.Nop())
	require.NoError(t, err)
	client.SetSleep(func(context.Context, time.Duration) error { return nil })

	return &harness{
		mock:    mock,
		backend: backend,
		cache:   mgr,
		tracker: tracker,
		fetcher: New(mgr, client, tracker, Config{}, zerolog.Nop()),
		clock:   clk,
	}
}

func (h *harness) exhaustQuota(t *testing.T) {
	t.Helper()
	require.NoError(t, h.backend.Set(context.Background(), "test:quota:hourly", []byte("1000"), time.Hour))
}

func TestPhotoInfo_FoundAndCached(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Photo 42", res.Value.Title)
	assert.Equal(t, owner, res.Value.Owner)

	res, err = h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, h.mock.Calls(flickr.MethodPhotoInfo))
}

func TestPhotoInfo_NotFoundIsNegativelyCached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "404")
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())

	res, err = h.fetcher.PhotoInfo(ctx, "404")
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
	assert.Equal(t, 1, h.mock.Calls(""), "negative hit must not call upstream")

	entry, err := h.cache.Get(ctx, PhotoInfoKey("404"))
	require.NoError(t, err)
	assert.True(t, entry.NotFound)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), entry.ExpiresAt)
}

func TestPhotoInfo_RateLimitedIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	h.mock.SetStatus(flickr.MethodPhotoInfo, http.StatusTooManyRequests)
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.IsRateLimited())

	_, err = h.cache.Get(ctx, PhotoInfoKey("42"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// backoff window suppresses the retry
	res, err = h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.IsRateLimited())
	assert.Equal(t, 1, h.mock.Calls(flickr.MethodPhotoInfo))

	h.mock.ClearOverride(flickr.MethodPhotoInfo)
	h.clock.Advance(5*time.Minute + time.Second)

	res, err = h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 2, h.mock.Calls(flickr.MethodPhotoInfo))
}

func TestPhotoInfo_ServerErrorBacksOff(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	h.mock.SetStatus(flickr.MethodPhotoInfo, http.StatusBadGateway)
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.IsRateLimited())
	assert.Equal(t, 3, h.mock.Calls(flickr.MethodPhotoInfo))
	assert.True(t, h.cache.InBackoff(ctx, PhotoInfoKey("42")))

	_, err = h.cache.Get(ctx, PhotoInfoKey("42"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestPhotoInfo_MalformedIsNegativelyCached(t *testing.T) {
	h := newHarness(t)
	h.mock.SetResponses(flickr.MethodPhotoInfo, testutil.MockResponse{Body: "<html>"})
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
}

func TestNetworkFailure_SingleVsPage(t *testing.T) {
	h := newHarness(t)
	h.mock.Close()
	ctx := context.Background()

	single, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, single.IsNotFound())

	page, err := h.fetcher.CollectionPage(ctx, resource.AlbumRef(owner, "72157"), owner, 1, 500)
	require.NoError(t, err)
	assert.True(t, page.IsRateLimited(), "a page must never be negatively cached on network failure")

	_, err = h.cache.Get(ctx, PageKey(resource.AlbumRef(owner, "72157"), 1, 500))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestQuotaExhausted_NoCall(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	h.exhaustQuota(t)
	ctx := context.Background()

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.IsRateLimited())
	assert.Equal(t, 0, h.mock.Calls(""))
	assert.False(t, h.cache.InBackoff(ctx, PhotoInfoKey("42")), "local exhaustion is not a resource failure")
}

func TestQuotaExhausted_CacheStillServes(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	ctx := context.Background()

	_, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	h.exhaustQuota(t)

	res, err := h.fetcher.PhotoInfo(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestPhotoSizes_Projection(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("42", owner)
	ctx := context.Background()

	res, err := h.fetcher.PhotoSizes(ctx, "42", []string{"Large", "medium"})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, res.Value.Sizes, 2)
	assert.Equal(t, "Medium", res.Value.Sizes[0].Label)
	assert.Equal(t, 500, res.Value.Sizes[0].Width)
	assert.Equal(t, "Large", res.Value.Sizes[1].Label)
	assert.Equal(t, testutil.SourceURL("42", "l"), res.Value.Sizes[1].Source)

	// projection key is order and case insensitive
	_, err = h.cache.Get(ctx, ProjectionKey("42", []string{"MEDIUM", "Large"}))
	require.NoError(t, err)

	// a different projection is served from the canonical list
	res, err = h.fetcher.PhotoSizes(ctx, "42", []string{"Original"})
	require.NoError(t, err)
	require.Len(t, res.Value.Sizes, 1)
	assert.Equal(t, 4000, res.Value.Sizes[0].Width)

	all, err := h.fetcher.PhotoSizes(ctx, "42", nil)
	require.NoError(t, err)
	assert.Len(t, all.Value.Sizes, 5)

	assert.Equal(t, 1, h.mock.Calls(flickr.MethodPhotoSizes))
}

func TestPhotoSizes_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.fetcher.PhotoSizes(ctx, "404", []string{"Large"})
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
}

func TestHarvest_ServesSizesAndStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n := h.fetcher.HarvestPhotos(ctx, []resource.Photo{
		{
			ID:    "7",
			Sizes: []resource.Size{{Label: "Large", Width: 1024, Height: 683, Source: "l.jpg"}},
			Stats: &resource.Stats{Views: 12, Comments: 1, Faves: 3},
		},
		{ID: "8", Sizes: []resource.Size{{Label: "Medium", Source: "m.jpg"}}},
		{ID: ""},
	})
	assert.Equal(t, 3, n)

	sizes, err := h.fetcher.PhotoSizes(ctx, "7", []string{"Large"})
	require.NoError(t, err)
	require.True(t, sizes.OK())
	assert.Equal(t, "l.jpg", sizes.Value.Sizes[0].Source)

	stats, err := h.fetcher.PhotoStats(ctx, "7")
	require.NoError(t, err)
	require.True(t, stats.OK())
	assert.Equal(t, resource.Stats{Views: 12, Comments: 1, Faves: 3}, stats.Value)

	assert.Equal(t, 0, h.mock.Calls(""))
}

func TestPhotoStats_DerivedFromInfo(t *testing.T) {
	h := newHarness(t)
	h.mock.AddPhoto("1234", owner)
	ctx := context.Background()

	stats, err := h.fetcher.PhotoStats(ctx, "1234")
	require.NoError(t, err)
	require.True(t, stats.OK())
	assert.Equal(t, resource.Stats{Views: 234, Comments: 2, Faves: 5}, stats.Value)

	_, err = h.cache.Get(ctx, StatsKey("1234"))
	require.NoError(t, err)
}

func TestResolveUser(t *testing.T) {
	h := newHarness(t)
	h.mock.AddUser("someone", owner)
	ctx := context.Background()

	res, err := h.fetcher.ResolveUser(ctx, "99999999@N01")
	require.NoError(t, err)
	assert.Equal(t, "99999999@N01", res.Value)
	assert.Equal(t, 0, h.mock.Calls(""))

	res, err = h.fetcher.ResolveUser(ctx, "someone")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, owner, res.Value)

	entry, err := h.cache.Get(ctx, UserKey("someone"))
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), entry.ExpiresAt)

	res, err = h.fetcher.ResolveUser(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
	assert.Equal(t, 2, h.mock.Calls(flickr.MethodLookupUser))
}

func TestCachedUser(t *testing.T) {
	h := newHarness(t)
	h.mock.AddUser("someone", owner)
	ctx := context.Background()

	res, ok := h.fetcher.CachedUser(ctx, owner)
	assert.True(t, ok)
	assert.Equal(t, owner, res.Value)

	_, ok = h.fetcher.CachedUser(ctx, "someone")
	assert.False(t, ok)
	assert.Zero(t, h.mock.Calls(""))

	_, err := h.fetcher.ResolveUser(ctx, "someone")
	require.NoError(t, err)
	_, err = h.fetcher.ResolveUser(ctx, "nobody")
	require.NoError(t, err)

	res, ok = h.fetcher.CachedUser(ctx, "someone")
	require.True(t, ok)
	assert.Equal(t, owner, res.Value)
	res, ok = h.fetcher.CachedUser(ctx, "nobody")
	require.True(t, ok)
	assert.True(t, res.IsNotFound())
	assert.Equal(t, 2, h.mock.Calls(""))
}

func TestAlbumInfo(t *testing.T) {
	h := newHarness(t)
	h.mock.AddAlbum(owner, "72157", "Trip", 3, 100)
	ctx := context.Background()

	res, err := h.fetcher.AlbumInfo(ctx, owner, "72157")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Trip", res.Value.Title)
	assert.Equal(t, 3, res.Value.Count)
}

func TestCollectionPage(t *testing.T) {
	h := newHarness(t)
	h.mock.AddAlbum(owner, "72157", "Trip", 7, 100)
	h.mock.AddPhotostream(owner, 4, 500)
	ctx := context.Background()

	album := resource.AlbumRef(owner, "72157")
	res, err := h.fetcher.CollectionPage(ctx, album, owner, 2, 5)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, album, res.Value.Ref)
	assert.Equal(t, 2, res.Value.Page)
	assert.Equal(t, 2, res.Value.Pages)
	assert.Equal(t, 7, res.Value.Total)
	require.Len(t, res.Value.Photos, 2)
	assert.Equal(t, "105", res.Value.Photos[0].ID)

	stream := resource.PhotostreamRef(owner)
	res, err = h.fetcher.CollectionPage(ctx, stream, owner, 1, 500)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Len(t, res.Value.Photos, 4)

	// cached
	_, err = h.fetcher.CollectionPage(ctx, album, owner, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, h.mock.Calls(flickr.MethodPhotosetPhotos))

	_, err = h.fetcher.CollectionPage(ctx, resource.PhotoRef("1"), owner, 1, 5)
	assert.Error(t, err)
}

func TestCollectionPage_RateLimitedWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.mock.AddAlbum(owner, "72157", "Trip", 7, 100)
	h.mock.SetStatus(flickr.MethodPhotosetPhotos, http.StatusTooManyRequests)
	ctx := context.Background()
	album := resource.AlbumRef(owner, "72157")

	res, err := h.fetcher.CollectionPage(ctx, album, owner, 1, 500)
	require.NoError(t, err)
	assert.True(t, res.IsRateLimited())

	_, err = h.cache.Get(ctx, PageKey(album, 1, 500))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestCollectionPage_LaterPageFailureIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.mock.AddAlbum(owner, "72157", "Trip", 7, 100)
	h.mock.SetResponses(flickr.MethodPhotosetPhotos, testutil.MockResponse{Body: "{not json"})
	ctx := context.Background()
	album := resource.AlbumRef(owner, "72157")

	res, err := h.fetcher.CollectionPage(ctx, album, owner, 2, 5)
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
	_, err = h.cache.Get(ctx, PageKey(album, 2, 5))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	// the first page of a collection is its existence; that one is cached
	res, err = h.fetcher.CollectionPage(ctx, album, owner, 1, 5)
	require.NoError(t, err)
	assert.True(t, res.IsNotFound())
	entry, err := h.cache.Get(ctx, PageKey(album, 1, 5))
	require.NoError(t, err)
	assert.True(t, entry.NotFound)

	h.mock.ClearOverride(flickr.MethodPhotosetPhotos)
	res, err = h.fetcher.CollectionPage(ctx, album, owner, 2, 5)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestFetcher_MemoScope(t *testing.T) {
	h := newHarness(t)
	ctx := cache.WithMemo(context.Background())

	for i := 0; i < 3; i++ {
		res, err := h.fetcher.PhotoInfo(ctx, "404")
		require.NoError(t, err)
		assert.True(t, res.IsNotFound())
	}
	assert.Equal(t, 1, h.mock.Calls(""))
}
