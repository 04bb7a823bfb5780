// Package testutil provides a fake Flickr REST endpoint for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MockResponse is a canned reply for one method call.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

type mockAlbum struct {
	owner  string
	title  string
	photos []string
}

// MockFlickr serves the Flickr REST methods the warmer uses from an
// in-memory model. Requests are dispatched on the "method" parameter;
// per-method overrides take precedence over the model.
type MockFlickr struct {
	server *httptest.Server

	mu        sync.Mutex
	overrides map[string][]MockResponse
	counts    map[string]int
	total     int
	lastQuery map[string]string

	photos  map[string]string // id -> owner
	albums  map[string]*mockAlbum
	streams map[string][]string // nsid -> photo ids
	users   map[string]string   // path alias -> nsid
}

// NewMockFlickr starts the server. Callers must Close it.
func NewMockFlickr() *MockFlickr {
	m := &MockFlickr{
		overrides: make(map[string][]MockResponse),
		counts:    make(map[string]int),
		photos:    make(map[string]string),
		albums:    make(map[string]*mockAlbum),
		streams:   make(map[string][]string),
		users:     make(map[string]string),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the REST endpoint URL.
func (m *MockFlickr) URL() string { return m.server.URL + "/services/rest/" }

// Close shuts down the mock server.
func (m *MockFlickr) Close() { m.server.Close() }

// Reset clears counters and overrides, keeping the model.
func (m *MockFlickr) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = make(map[string][]MockResponse)
	m.counts = make(map[string]int)
	m.total = 0
}

// Calls returns the number of requests made for method, or for all methods
// when method is "".
func (m *MockFlickr) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if method == "" {
		return m.total
	}
	return m.counts[method]
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockFlickr) LastQuery() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.lastQuery))
	for k, v := range m.lastQuery {
		out[k] = v
	}
	return out
}

// SetResponses queues canned replies for method. Replies are consumed in
// order and the last one repeats.
func (m *MockFlickr) SetResponses(method string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[method] = resps
}

// SetStatus makes every call to method fail with the HTTP status.
func (m *MockFlickr) SetStatus(method string, status int) {
	m.SetResponses(method, MockResponse{StatusCode: status, Body: http.StatusText(status)})
}

// SetFail makes every call to method return stat=fail.
func (m *MockFlickr) SetFail(method string, code int, message string) {
	m.SetResponses(method, MockResponse{StatusCode: http.StatusOK, Body: FailBody(code, message)})
}

// ClearOverride returns method to the model.
func (m *MockFlickr) ClearOverride(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, method)
}

// AddPhoto registers a photo.
func (m *MockFlickr) AddPhoto(id, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[id] = owner
}

// AddUser registers a path alias for an NSID.
func (m *MockFlickr) AddUser(alias, nsid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[alias] = nsid
}

// AddAlbum registers an album with count photos numbered from firstID.
func (m *MockFlickr) AddAlbum(owner, setID, title string, count, firstID int) []string {
	ids := makeIDs(count, firstID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.albums[setID] = &mockAlbum{owner: owner, title: title, photos: ids}
	for _, id := range ids {
		m.photos[id] = owner
	}
	return ids
}

// AddPhotostream registers count public photos for owner.
func (m *MockFlickr) AddPhotostream(owner string, count, firstID int) []string {
	ids := makeIDs(count, firstID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[owner] = ids
	for _, id := range ids {
		m.photos[id] = owner
	}
	return ids
}

func makeIDs(count, first int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = strconv.Itoa(first + i)
	}
	return ids
}

func (m *MockFlickr) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	method := q.Get("method")

	m.mu.Lock()
	m.total++
	m.counts[method]++
	m.lastQuery = make(map[string]string, len(q))
	for k := range q {
		m.lastQuery[k] = q.Get(k)
	}
	var override *MockResponse
	if resps := m.overrides[method]; len(resps) > 0 {
		resp := resps[0]
		override = &resp
		if len(resps) > 1 {
			m.overrides[method] = resps[1:]
		}
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if override != nil {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		status := override.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		fmt.Fprint(w, override.Body)
		return
	}

	if q.Get("api_key") == "" {
		fmt.Fprint(w, FailBody(100, "Invalid API Key (Key has invalid format)"))
		return
	}

	body := m.model(method, q)
	fmt.Fprint(w, body)
}

func (m *MockFlickr) model(method string, q map[string][]string) string {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch method {
	case "flickr.photos.getInfo":
		id := get("photo_id")
		owner, ok := m.photos[id]
		if !ok {
			return FailBody(1, "Photo not found")
		}
		return OKBody(map[string]any{"photo": photoInfo(id, owner)})

	case "flickr.photos.getSizes":
		id := get("photo_id")
		if _, ok := m.photos[id]; !ok {
			return FailBody(1, "Photo not found")
		}
		return OKBody(map[string]any{"sizes": map[string]any{
			"canblog": 0, "canprint": 0, "candownload": 1,
			"size": sizesFor(id),
		}})

	case "flickr.urls.lookupUser":
		alias := aliasFromURL(get("url"))
		nsid, ok := m.users[alias]
		if !ok {
			return FailBody(1, "User not found")
		}
		return OKBody(map[string]any{"user": map[string]any{
			"id":       nsid,
			"username": map[string]any{"_content": alias},
		}})

	case "flickr.photosets.getInfo":
		a, ok := m.albums[get("photoset_id")]
		if !ok || (get("user_id") != "" && get("user_id") != a.owner) {
			return FailBody(1, "Photoset not found")
		}
		return OKBody(map[string]any{"photoset": map[string]any{
			"id":           get("photoset_id"),
			"owner":        a.owner,
			"title":        map[string]any{"_content": a.title},
			"description":  map[string]any{"_content": "About " + a.title},
			"count_photos": len(a.photos),
			"photos":       strconv.Itoa(len(a.photos)),
		}})

	case "flickr.photosets.getPhotos":
		a, ok := m.albums[get("photoset_id")]
		if !ok || (get("user_id") != "" && get("user_id") != a.owner) {
			return FailBody(1, "Photoset not found")
		}
		page, perPage := paging(get("page"), get("per_page"))
		items, pages := slicePage(a.photos, page, perPage)
		return OKBody(map[string]any{"photoset": map[string]any{
			"id":        get("photoset_id"),
			"owner":     a.owner,
			"ownername": "owner-" + a.owner,
			"title":     a.title,
			"photo":     listItems(items, a.owner, false),
			"page":      page,
			"per_page":  strconv.Itoa(perPage),
			"perpage":   perPage,
			"pages":     pages,
			"total":     strconv.Itoa(len(a.photos)),
		}})

	case "flickr.people.getPublicPhotos":
		ids, ok := m.streams[get("user_id")]
		if !ok {
			return FailBody(2, "Unknown user")
		}
		page, perPage := paging(get("page"), get("per_page"))
		items, pages := slicePage(ids, page, perPage)
		return OKBody(map[string]any{"photos": map[string]any{
			"page":    page,
			"pages":   strconv.Itoa(pages),
			"perpage": perPage,
			"total":   len(ids),
			"photo":   listItems(items, get("user_id"), true),
		}})
	}

	return FailBody(112, fmt.Sprintf("Method %q not found", method))
}

func paging(pageRaw, perPageRaw string) (int, int) {
	page, _ := strconv.Atoi(pageRaw)
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(perPageRaw)
	if perPage < 1 {
		perPage = 100
	}
	if perPage > 500 {
		perPage = 500
	}
	return page, perPage
}

func slicePage(ids []string, page, perPage int) ([]string, int) {
	pages := (len(ids) + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start >= len(ids) {
		return nil, pages
	}
	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end], pages
}

func aliasFromURL(u string) string {
	const prefix = "https://www.flickr.com/photos/"
	if len(u) > len(prefix) && u[:len(prefix)] == prefix {
		alias := u[len(prefix):]
		for i, c := range alias {
			if c == '/' {
				return alias[:i]
			}
		}
		return alias
	}
	return u
}

// Views derives a stable view count from a photo id.
func Views(id string) int {
	n, _ := strconv.Atoi(id)
	return n % 1000
}

func photoInfo(id, owner string) map[string]any {
	return map[string]any{
		"id":    id,
		"owner": map[string]any{"nsid": owner, "username": "user-" + owner, "path_alias": nil},
		"title": map[string]any{"_content": "Photo " + id},
		"description": map[string]any{
			"_content": "Description of " + id,
		},
		"dates":       map[string]any{"posted": "1714564800", "taken": "2024-05-01 12:00:00"},
		"views":       strconv.Itoa(Views(id)),
		"comments":    map[string]any{"_content": "2"},
		"count_faves": "5",
		"urls": map[string]any{"url": []map[string]any{
			{"type": "photopage", "_content": "https://www.flickr.com/photos/" + owner + "/" + id + "/"},
		}},
	}
}

// sizeTable lists the renditions the model serves.
var sizeTable = []struct {
	label, suffix string
	width, height int
}{
	{"Square", "sq", 75, 75},
	{"Thumbnail", "t", 100, 67},
	{"Medium", "m", 500, 333},
	{"Large", "l", 1024, 683},
	{"Original", "o", 4000, 2667},
}

func sizesFor(id string) []map[string]any {
	out := make([]map[string]any, 0, len(sizeTable))
	for i, s := range sizeTable {
		entry := map[string]any{
			"label":  s.label,
			"source": SourceURL(id, s.suffix),
			"url":    "https://www.flickr.com/photos/x/" + id + "/sizes/" + s.suffix + "/",
			"media":  "photo",
		}
		// Flickr mixes numbers and strings for dimensions
		if i%2 == 0 {
			entry["width"], entry["height"] = s.width, s.height
		} else {
			entry["width"], entry["height"] = strconv.Itoa(s.width), strconv.Itoa(s.height)
		}
		out = append(out, entry)
	}
	return out
}

// SourceURL is the image URL the model serves for a size suffix.
func SourceURL(id, suffix string) string {
	return "https://live.staticflickr.com/65535/" + id + "_secret_" + suffix + ".jpg"
}

func listItems(ids []string, owner string, withOwner bool) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		item := map[string]any{
			"id":             id,
			"secret":         "secret",
			"server":         "65535",
			"farm":           66,
			"title":          "Photo " + id,
			"ispublic":       1,
			"views":          strconv.Itoa(Views(id)),
			"count_faves":    "5",
			"count_comments": "2",
		}
		if withOwner {
			item["owner"] = owner
		}
		for _, s := range sizeTable {
			item["url_"+s.suffix] = SourceURL(id, s.suffix)
			item["width_"+s.suffix] = s.width
			item["height_"+s.suffix] = strconv.Itoa(s.height)
		}
		out = append(out, item)
	}
	return out
}

// OKBody renders a stat=ok envelope around payload.
func OKBody(payload map[string]any) string {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["stat"] = "ok"
	b, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// FailBody renders a stat=fail envelope.
func FailBody(code int, message string) string {
	return fmt.Sprintf(`{"stat":"fail","code":%d,"message":%q}`, code, message)
}
