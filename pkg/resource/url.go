package resource

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

var flickrHosts = map[string]bool{
	"flickr.com":        true,
	"www.flickr.com":    true,
	"m.flickr.com":      true,
	"secure.flickr.com": true,
}

// base58Alphabet is Flickr's short-link alphabet (no 0, O, I or l).
const base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// ParseURL maps a Flickr page link or a bare numeric photo id to a Ref.
//
//	https://www.flickr.com/photos/<owner>/<id>           photo
//	https://www.flickr.com/photos/<owner>/albums/<id>    album (also /sets/<id>)
//	https://www.flickr.com/photos/<owner>/               photostream
//	https://flic.kr/p/<base58>                           photo
//	<digits>                                             photo
func ParseURL(raw string) (Ref, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, false
	}
	if isDigits(raw) {
		return PhotoRef(raw), true
	}

	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Ref{}, false
	}
	host := strings.ToLower(u.Hostname())

	if host == "flic.kr" || host == "www.flic.kr" {
		segs := pathSegments(u.Path)
		if len(segs) == 2 && segs[0] == "p" {
			if id, ok := DecodeBase58(segs[1]); ok {
				return PhotoRef(strconv.FormatUint(id, 10)), true
			}
		}
		return Ref{}, false
	}

	if !flickrHosts[host] {
		return Ref{}, false
	}

	segs := pathSegments(u.Path)
	if len(segs) < 2 || segs[0] != "photos" {
		return Ref{}, false
	}
	owner := segs[1]
	if owner == "" || owner == "tags" || owner == "upload" {
		return Ref{}, false
	}

	if len(segs) == 2 {
		return PhotostreamRef(owner), true
	}

	switch next := segs[2]; {
	case next == "albums" || next == "sets":
		if len(segs) >= 4 && isDigits(segs[3]) {
			return AlbumRef(owner, segs[3]), true
		}
		return Ref{}, false
	case isDigits(next):
		return PhotoRef(next), true
	case strings.HasPrefix(next, "page") && isDigits(strings.TrimPrefix(next, "page")):
		return PhotostreamRef(owner), true
	default:
		return Ref{}, false
	}
}

// CanonicalURL renders the canonical page link for r.
func CanonicalURL(r Ref) string {
	switch r.Kind {
	case KindPhoto:
		if r.Owner != "" {
			return "https://www.flickr.com/photos/" + r.Owner + "/" + r.ID + "/"
		}
		return "https://flic.kr/p/" + EncodeBase58(mustUint(r.ID))
	case KindAlbum:
		return "https://www.flickr.com/photos/" + r.Owner + "/albums/" + r.ID
	case KindPhotostream:
		return "https://www.flickr.com/photos/" + r.Owner + "/"
	default:
		return ""
	}
}

// DecodeBase58 decodes a flic.kr short id. Ids that do not fit in a uint64
// are rejected.
func DecodeBase58(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for _, c := range s {
		i := strings.IndexRune(base58Alphabet, c)
		if i < 0 {
			return 0, false
		}
		d := uint64(i)
		if n > (math.MaxUint64-d)/58 {
			return 0, false
		}
		n = n*58 + d
	}
	return n, true
}

// EncodeBase58 encodes a photo id as a flic.kr short id.
func EncodeBase58(n uint64) string {
	if n == 0 {
		return string(base58Alphabet[0])
	}
	var buf []byte
	for n > 0 {
		buf = append(buf, base58Alphabet[n%58])
		n /= 58
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

func pathSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func mustUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}
