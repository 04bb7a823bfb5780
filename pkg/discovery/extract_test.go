package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

const blockPost = `<!-- wp:flickr-justified/block {"url":"https:\/\/www.flickr.com\/photos\/someone\/albums\/72157"} -->
<figure>
  <a href="https://www.flickr.com/photos/someone/53012345678/in/album-1/"><img src="https://live.staticflickr.com/65535/1_x.jpg"></a>
  <div data-photo="https://flic.kr/p/2x">short link</div>
</figure>
<p>See https://www.flickr.com/photos/someone/ and https://www.flickr.com/photos/someone/53012345678/ again.</p>
<a href="https://example.com/photos/x/1">not flickr</a>
<a href="https://www.flickr.com/photos/tags/cats">tag page</a>
<!-- /wp:flickr-justified/block -->`

func TestExtractLinks_HTML(t *testing.T) {
	links := ExtractLinks(blockPost)

	urls := make([]string, len(links))
	for i, l := range links {
		urls[i] = l.URL
	}
	assert.Equal(t, []string{
		"https://www.flickr.com/photos/someone/albums/72157",
		"https://www.flickr.com/photos/someone/53012345678/in/album-1/",
		"https://flic.kr/p/2x",
		"https://www.flickr.com/photos/someone/",
	}, urls)

	assert.Equal(t, resource.AlbumRef("someone", "72157"), links[0].Ref)
	assert.Equal(t, resource.PhotoRef("53012345678"), links[1].Ref)
	assert.Equal(t, resource.PhotoRef("89"), links[2].Ref)
	assert.Equal(t, resource.PhotostreamRef("someone"), links[3].Ref)
}

func TestExtractLinks_PlainText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"trailing punctuation", "Check https://flic.kr/p/2x.", []string{"https://flic.kr/p/2x"}},
		{"protocol relative", "//www.flickr.com/photos/a/sets/99", []string{"//www.flickr.com/photos/a/sets/99"}},
		{"mobile host", "m.flickr.com: http://m.flickr.com/photos/a/5", []string{"http://m.flickr.com/photos/a/5"}},
		{"nothing", "no links here, just 12345", nil},
		{"same resource twice", "https://flic.kr/p/2x https://www.flickr.com/photos/a/89/", []string{"https://flic.kr/p/2x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractURLs(tt.content))
		})
	}
}
