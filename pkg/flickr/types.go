package flickr

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// flexInt decodes integers Flickr sends either as numbers or as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// content decodes {"_content": "..."} wrappers, and plain strings.
type content string

func (c *content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = content(s)
		return nil
	}
	var wrapped struct {
		Content string `json:"_content"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*c = content(wrapped.Content)
	return nil
}

type photoInfoResponse struct {
	Photo struct {
		ID    string `json:"id"`
		Owner struct {
			NSID      string `json:"nsid"`
			Username  string `json:"username"`
			PathAlias string `json:"path_alias"`
		} `json:"owner"`
		Title       content `json:"title"`
		Description content `json:"description"`
		Dates       struct {
			Posted flexInt `json:"posted"`
			Taken  string  `json:"taken"`
		} `json:"dates"`
		Views      flexInt `json:"views"`
		Comments   content `json:"comments"`
		CountFaves flexInt `json:"count_faves"`
		URLs       struct {
			URL []struct {
				Type    string `json:"type"`
				Content string `json:"_content"`
			} `json:"url"`
		} `json:"urls"`
	} `json:"photo"`
}

type sizesResponse struct {
	Sizes struct {
		Size []struct {
			Label  string  `json:"label"`
			Width  flexInt `json:"width"`
			Height flexInt `json:"height"`
			Source string  `json:"source"`
			Media  string  `json:"media"`
		} `json:"size"`
	} `json:"sizes"`
}

type lookupUserResponse struct {
	User struct {
		ID       string  `json:"id"`
		Username content `json:"username"`
	} `json:"user"`
}

type photosetInfoResponse struct {
	Photoset struct {
		ID          string  `json:"id"`
		Owner       string  `json:"owner"`
		Title       content `json:"title"`
		Description content `json:"description"`
		CountPhotos flexInt `json:"count_photos"`
		Photos      flexInt `json:"photos"`
	} `json:"photoset"`
}

// listPage is the paging block shared by photosets.getPhotos ("photoset")
// and people.getPublicPhotos ("photos"). Items keep dynamic url_<suffix>
// keys, so they stay raw.
type listPage struct {
	ID      string                       `json:"id"`
	Owner   string                       `json:"owner"`
	Title   content                      `json:"title"`
	Page    flexInt                      `json:"page"`
	Pages   flexInt                      `json:"pages"`
	PerPage flexInt                      `json:"perpage"`
	Total   flexInt                      `json:"total"`
	Photo   []map[string]json.RawMessage `json:"photo"`
}

type photosetPhotosResponse struct {
	Photoset listPage `json:"photoset"`
}

type publicPhotosResponse struct {
	Photos listPage `json:"photos"`
}
