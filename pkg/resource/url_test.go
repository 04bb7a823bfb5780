package resource

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
		ok   bool
	}{
		{"https://www.flickr.com/photos/someone/53012345678/", PhotoRef("53012345678"), true},
		{"https://www.flickr.com/photos/someone/53012345678/in/album-721/", PhotoRef("53012345678"), true},
		{"http://flickr.com/photos/12345678@N02/77", PhotoRef("77"), true},
		{"https://m.flickr.com/photos/someone/albums/72157700000000000", AlbumRef("someone", "72157700000000000"), true},
		{"https://www.flickr.com/photos/someone/sets/721/", AlbumRef("someone", "721"), true},
		{"https://www.flickr.com/photos/someone/", PhotostreamRef("someone"), true},
		{"https://www.flickr.com/photos/someone/page3", PhotostreamRef("someone"), true},
		{"//www.flickr.com/photos/someone", PhotostreamRef("someone"), true},
		{"https://flic.kr/p/2", PhotoRef("1"), true},
		{"https://flic.kr/p/21", PhotoRef("58"), true},
		{"53012345678", PhotoRef("53012345678"), true},
		{"  42 ", PhotoRef("42"), true},

		{"", Ref{}, false},
		{"https://example.com/photos/someone/1", Ref{}, false},
		{"https://www.flickr.com/groups/x/", Ref{}, false},
		{"https://www.flickr.com/photos/tags/sunset", Ref{}, false},
		{"https://www.flickr.com/photos/someone/albums/", Ref{}, false},
		{"https://www.flickr.com/photos/someone/favorites/", Ref{}, false},
		{"https://flic.kr/p/0OIl", Ref{}, false},
		{"https://flic.kr/p/zzzzzzzzzzzzz", Ref{}, false},
		{"ftp://www.flickr.com/photos/someone/1", Ref{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseURL(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBase58RoundTrip(t *testing.T) {
	for _, n := range []uint64{1, 57, 58, 3364, 53012345678, 1<<63 - 1} {
		enc := EncodeBase58(n)
		dec, ok := DecodeBase58(enc)
		assert.True(t, ok)
		assert.Equal(t, n, dec, enc)
	}
}

func TestDecodeBase58_Overflow(t *testing.T) {
	top := EncodeBase58(math.MaxUint64)
	n, ok := DecodeBase58(top)
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64), n)

	for _, s := range []string{top + "1", "zzzzzzzzzzzz", "zzzzzzzzzzzzz"} {
		_, ok := DecodeBase58(s)
		assert.False(t, ok, s)
	}
}

func TestCanonicalURL(t *testing.T) {
	ref, ok := ParseURL(CanonicalURL(PhotoRef("53012345678")))
	assert.True(t, ok)
	assert.Equal(t, PhotoRef("53012345678"), ref)

	assert.Equal(t, "https://www.flickr.com/photos/a/albums/1", CanonicalURL(AlbumRef("a", "1")))
	assert.Equal(t, "https://www.flickr.com/photos/a/", CanonicalURL(PhotostreamRef("a")))
}
