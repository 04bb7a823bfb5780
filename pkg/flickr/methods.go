package flickr

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// Flickr REST methods used by the warmer.
const (
	MethodPhotoInfo      = "flickr.photos.getInfo"
	MethodPhotoSizes     = "flickr.photos.getSizes"
	MethodLookupUser     = "flickr.urls.lookupUser"
	MethodPhotosetInfo   = "flickr.photosets.getInfo"
	MethodPhotosetPhotos = "flickr.photosets.getPhotos"
	MethodPublicPhotos   = "flickr.people.getPublicPhotos"
)

// MaxPerPage is the largest page the list methods accept.
const MaxPerPage = 500

// HarvestExtras asks list methods for every size URL plus the counters, so
// one page response carries the per-photo projections too.
var HarvestExtras = func() string {
	extras := make([]string, 0, len(resource.SizeSuffixes)+3)
	for _, s := range resource.SizeSuffixes {
		extras = append(extras, "url_"+s.Suffix)
	}
	extras = append(extras, "views", "count_faves", "count_comments")
	return strings.Join(extras, ",")
}()

// PhotoInfo calls flickr.photos.getInfo.
func (c *Client) PhotoInfo(ctx context.Context, photoID string) (*resource.PhotoInfo, error) {
	var resp photoInfoResponse
	if err := c.Call(ctx, MethodPhotoInfo, url.Values{"photo_id": {photoID}}, &resp); err != nil {
		return nil, err
	}

	p := resp.Photo
	info := &resource.PhotoInfo{
		ID:          p.ID,
		Owner:       p.Owner.NSID,
		OwnerName:   p.Owner.Username,
		Title:       string(p.Title),
		Description: string(p.Description),
		Taken:       p.Dates.Taken,
		Stats: resource.Stats{
			Views:    int(p.Views),
			Comments: atoi(string(p.Comments)),
			Faves:    int(p.CountFaves),
		},
	}
	if p.Dates.Posted > 0 {
		info.Posted = time.Unix(int64(p.Dates.Posted), 0).UTC()
	}
	for _, u := range p.URLs.URL {
		if u.Type == "photopage" {
			info.PageURL = u.Content
		}
	}
	if info.ID == "" {
		info.ID = photoID
	}
	return info, nil
}

// PhotoSizes calls flickr.photos.getSizes. Video renditions are skipped.
func (c *Client) PhotoSizes(ctx context.Context, photoID string) ([]resource.Size, error) {
	var resp sizesResponse
	if err := c.Call(ctx, MethodPhotoSizes, url.Values{"photo_id": {photoID}}, &resp); err != nil {
		return nil, err
	}

	sizes := make([]resource.Size, 0, len(resp.Sizes.Size))
	for _, s := range resp.Sizes.Size {
		if s.Media != "" && s.Media != "photo" {
			continue
		}
		sizes = append(sizes, resource.Size{
			Label:  s.Label,
			Width:  int(s.Width),
			Height: int(s.Height),
			Source: s.Source,
		})
	}
	return sizes, nil
}

// LookupUser resolves a photostream owner (path alias) to an NSID.
func (c *Client) LookupUser(ctx context.Context, owner string) (string, error) {
	var resp lookupUserResponse
	params := url.Values{"url": {"https://www.flickr.com/photos/" + owner + "/"}}
	if err := c.Call(ctx, MethodLookupUser, params, &resp); err != nil {
		return "", err
	}
	if resp.User.ID == "" {
		return "", &APIError{Method: MethodLookupUser, ErrorClass: ErrorClassMalformed, Message: "empty user id"}
	}
	return resp.User.ID, nil
}

// PhotosetInfo calls flickr.photosets.getInfo.
func (c *Client) PhotosetInfo(ctx context.Context, userID, setID string) (*resource.AlbumInfo, error) {
	var resp photosetInfoResponse
	params := url.Values{"photoset_id": {setID}, "user_id": {userID}}
	if err := c.Call(ctx, MethodPhotosetInfo, params, &resp); err != nil {
		return nil, err
	}

	ps := resp.Photoset
	count := int(ps.CountPhotos)
	if count == 0 {
		count = int(ps.Photos)
	}
	return &resource.AlbumInfo{
		ID:          setID,
		Owner:       ps.Owner,
		Title:       string(ps.Title),
		Description: string(ps.Description),
		Count:       count,
	}, nil
}

// PhotosetPhotos fetches one page of an album with harvest extras. userID
// may be empty.
func (c *Client) PhotosetPhotos(ctx context.Context, userID, setID string, page, perPage int) (*resource.Page, error) {
	var resp photosetPhotosResponse
	params := listParams(page, perPage)
	params.Set("photoset_id", setID)
	if userID != "" {
		params.Set("user_id", userID)
	}
	if err := c.Call(ctx, MethodPhotosetPhotos, params, &resp); err != nil {
		return nil, err
	}
	return toPage(resp.Photoset, resp.Photoset.Owner, page, perPage), nil
}

// PublicPhotos fetches one page of a photostream with harvest extras.
func (c *Client) PublicPhotos(ctx context.Context, userID string, page, perPage int) (*resource.Page, error) {
	var resp publicPhotosResponse
	params := listParams(page, perPage)
	params.Set("user_id", userID)
	if err := c.Call(ctx, MethodPublicPhotos, params, &resp); err != nil {
		return nil, err
	}
	return toPage(resp.Photos, userID, page, perPage), nil
}

func listParams(page, perPage int) url.Values {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
		"extras":   {HarvestExtras},
	}
}

func toPage(lp listPage, owner string, page, perPage int) *resource.Page {
	out := &resource.Page{
		Page:    int(lp.Page),
		Pages:   int(lp.Pages),
		PerPage: int(lp.PerPage),
		Total:   int(lp.Total),
		Title:   string(lp.Title),
		Photos:  make([]resource.Photo, 0, len(lp.Photo)),
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.PerPage == 0 {
		out.PerPage = perPage
	}
	for _, item := range lp.Photo {
		p := harvest(item)
		if p.Owner == "" {
			p.Owner = owner
		}
		out.Photos = append(out.Photos, p)
	}
	return out
}

// harvest turns a list item with harvest extras into a Photo carrying its
// sizes and stats.
func harvest(item map[string]json.RawMessage) resource.Photo {
	p := resource.Photo{
		ID:    rawString(item["id"]),
		Owner: rawString(item["owner"]),
		Title: rawString(item["title"]),
	}

	for _, s := range resource.SizeSuffixes {
		src := rawString(item["url_"+s.Suffix])
		if src == "" {
			continue
		}
		p.Sizes = append(p.Sizes, resource.Size{
			Label:  s.Label,
			Width:  rawInt(item["width_"+s.Suffix]),
			Height: rawInt(item["height_"+s.Suffix]),
			Source: src,
		})
	}

	if _, ok := item["views"]; ok {
		p.Stats = &resource.Stats{
			Views:    rawInt(item["views"]),
			Comments: rawInt(item["count_comments"]),
			Faves:    rawInt(item["count_faves"]),
		}
	}
	return p
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var c content
	if err := json.Unmarshal(raw, &c); err == nil {
		return string(c)
	}
	// numeric ids
	return strings.Trim(string(raw), `"`)
}

func rawInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n flexInt
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return int(n)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
