package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Resource types used as the semantic path of a key.
const (
	TypePhotoInfo  = "photo_info"
	TypePhotoSizes = "photo_sizes"
	TypePhotoStats = "photo_stats"
	TypeUser       = "user"
	TypeAlbumInfo  = "album_info"
	TypePage       = "page"
	TypeCollection = "collection"
	TypePartial    = "partial"
	TypeBackoff    = "backoff"
)

// DataTypes are the types purged by ClearAll. Metadata and quota keys live
// outside them.
var DataTypes = []string{
	TypePhotoInfo,
	TypePhotoSizes,
	TypePhotoStats,
	TypeUser,
	TypeAlbumInfo,
	TypePage,
	TypeCollection,
	TypePartial,
	TypeBackoff,
}

// Key identifies a cached value.
type Key struct {
	// Type is the resource type (TypePhotoInfo, TypePage, ...).
	Type string

	// ID is the resource identifier, e.g. "53012345678" or "album:owner:721:p2".
	ID string

	// Projection lists the requested variants (size labels). Order, case and
	// duplicates do not matter.
	Projection []string
}

// Path is the unversioned semantic part of the key:
//
//	<type>:<id>[_<projection hash>]
func (k Key) Path() string {
	p := k.Type + ":" + k.ID
	if h := ProjectionHash(k.Projection); h != "" {
		p += "_" + h
	}
	return p
}

// String renders the full key.
// Format: <namespace>:<type>:<id>[_<hash>]:v<version>
//
// Example:
//
//	gallery:photo_sizes:53012345678_9f3c01aa:v4
func (k Key) String(namespace string, version int64) string {
	return fmt.Sprintf("%s:%s:v%d", namespace, k.Path(), version)
}

// ProjectionHash is an 8 hex digit xxhash of the normalised projection, or
// "" when there is none.
func ProjectionHash(projection []string) string {
	norm := normalizeProjection(projection)
	if len(norm) == 0 {
		return ""
	}
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(strings.Join(norm, ","))))
}

func normalizeProjection(projection []string) []string {
	seen := make(map[string]bool, len(projection))
	out := make([]string, 0, len(projection))
	for _, p := range projection {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func versionKey(namespace string) string { return namespace + ":meta:version" }
