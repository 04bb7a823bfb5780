package resource

import (
	"strings"
	"time"
)

// Size labels as reported by flickr.photos.getSizes.
const (
	SizeSquare      = "Square"
	SizeLargeSquare = "Large Square"
	SizeThumbnail   = "Thumbnail"
	SizeSmall       = "Small"
	SizeSmall320    = "Small 320"
	SizeMedium      = "Medium"
	SizeMedium640   = "Medium 640"
	SizeMedium800   = "Medium 800"
	SizeLarge       = "Large"
	SizeLarge1600   = "Large 1600"
	SizeLarge2048   = "Large 2048"
	SizeOriginal    = "Original"
)

// SizeSuffixes maps the url_<suffix> extras returned by list methods to the
// size label getSizes would report. Order is smallest first.
var SizeSuffixes = []struct {
	Suffix string
	Label  string
}{
	{"sq", SizeSquare},
	{"q", SizeLargeSquare},
	{"t", SizeThumbnail},
	{"s", SizeSmall},
	{"n", SizeSmall320},
	{"m", SizeMedium},
	{"z", SizeMedium640},
	{"c", SizeMedium800},
	{"l", SizeLarge},
	{"h", SizeLarge1600},
	{"k", SizeLarge2048},
	{"o", SizeOriginal},
}

// Size is one rendition of a photo.
type Size struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Source string `json:"source"`
}

// Projection is the subset of a photo's sizes a caller asked for.
type Projection struct {
	PhotoID string `json:"photo_id"`
	Sizes   []Size `json:"sizes"`
}

// Project filters sizes down to the requested labels, keeping the input
// order. An empty request keeps everything.
func Project(photoID string, all []Size, want []string) Projection {
	p := Projection{PhotoID: photoID}
	if len(want) == 0 {
		p.Sizes = append([]Size(nil), all...)
		return p
	}
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	for _, s := range all {
		if set[strings.ToLower(s.Label)] {
			p.Sizes = append(p.Sizes, s)
		}
	}
	return p
}

// Stats are the public counters of a photo.
type Stats struct {
	Views    int `json:"views"`
	Comments int `json:"comments"`
	Faves    int `json:"faves"`
}

// PhotoInfo is the subset of flickr.photos.getInfo the gallery needs.
type PhotoInfo struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	OwnerName   string    `json:"owner_name,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PageURL     string    `json:"page_url,omitempty"`
	Taken       string    `json:"taken,omitempty"`
	Posted      time.Time `json:"posted,omitempty"`
	Stats       Stats     `json:"stats"`
}

// AlbumInfo is title metadata for a photoset.
type AlbumInfo struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// Photo is one item of a collection, with the projections harvested from the
// page response.
type Photo struct {
	ID    string `json:"id"`
	Owner string `json:"owner,omitempty"`
	Title string `json:"title"`
	Sizes []Size `json:"sizes,omitempty"`
	Stats *Stats `json:"stats,omitempty"`
}

// Page is one upstream page of a collection.
type Page struct {
	Ref     Ref     `json:"ref"`
	Page    int     `json:"page"`
	Pages   int     `json:"pages"`
	PerPage int     `json:"per_page"`
	Total   int     `json:"total"`
	Title   string  `json:"title,omitempty"`
	Photos  []Photo `json:"photos"`
}

// Collection is a fully aggregated album or photostream.
type Collection struct {
	Ref         Ref       `json:"ref"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Total       int       `json:"total"`
	Photos      []Photo   `json:"photos"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Slice returns page (1-based) of c at perPage items, and the page count.
func (c *Collection) Slice(page, perPage int) ([]Photo, int) {
	if perPage <= 0 {
		perPage = len(c.Photos)
	}
	if perPage == 0 {
		return nil, 0
	}
	pages := (len(c.Photos) + perPage - 1) / perPage
	if page < 1 || page > pages {
		return nil, pages
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > len(c.Photos) {
		end = len(c.Photos)
	}
	return c.Photos[start:end], pages
}
