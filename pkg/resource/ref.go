// Package resource defines the addressable Flickr entities the warmer works
// on (single photos, albums and photostreams), how they are parsed from
// links and job keys, the payloads cached for them, and the tagged Result
// returned by every fetch path.
package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJobKey is returned when a job key does not name a resource.
var ErrInvalidJobKey = errors.New("invalid job key")

// Kind is the type of upstream resource.
type Kind string

const (
	// KindPhoto is a single photo.
	KindPhoto Kind = "photo"

	// KindAlbum is a photoset owned by a user.
	KindAlbum Kind = "album"

	// KindPhotostream is every public photo of a user.
	KindPhotostream Kind = "photostream"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPhoto, KindAlbum, KindPhotostream:
		return true
	default:
		return false
	}
}

// IsCollection reports whether k is paginated upstream.
func (k Kind) IsCollection() bool {
	return k == KindAlbum || k == KindPhotostream
}

// Ref identifies one resource. Owner is empty for photos; ID is empty for
// photostreams.
type Ref struct {
	Kind  Kind   `json:"kind"`
	Owner string `json:"owner,omitempty"`
	ID    string `json:"id,omitempty"`
}

// PhotoRef returns a photo reference.
func PhotoRef(id string) Ref { return Ref{Kind: KindPhoto, ID: id} }

// AlbumRef returns an album reference.
func AlbumRef(owner, id string) Ref { return Ref{Kind: KindAlbum, Owner: owner, ID: id} }

// PhotostreamRef returns a photostream reference.
func PhotostreamRef(owner string) Ref { return Ref{Kind: KindPhotostream, Owner: owner} }

// Validate checks that the fields required by the kind are present.
func (r Ref) Validate() error {
	switch r.Kind {
	case KindPhoto:
		if r.ID == "" {
			return fmt.Errorf("photo ref: missing id")
		}
	case KindAlbum:
		if r.Owner == "" || r.ID == "" {
			return fmt.Errorf("album ref: owner and id are required")
		}
	case KindPhotostream:
		if r.Owner == "" {
			return fmt.Errorf("photostream ref: missing owner")
		}
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
	return nil
}

// JobKey is the stable queue identity:
//
//	photo:<id>
//	album:<owner>:<id>
//	photostream:<owner>
func (r Ref) JobKey() string {
	switch r.Kind {
	case KindPhoto:
		return "photo:" + r.ID
	case KindAlbum:
		return "album:" + r.Owner + ":" + r.ID
	case KindPhotostream:
		return "photostream:" + r.Owner
	default:
		return string(r.Kind) + ":" + r.Owner + ":" + r.ID
	}
}

// String implements fmt.Stringer.
func (r Ref) String() string { return r.JobKey() }

// ParseJobKey is the inverse of Ref.JobKey.
func ParseJobKey(key string) (Ref, error) {
	parts := strings.Split(key, ":")
	var ref Ref
	switch {
	case len(parts) == 2 && parts[0] == string(KindPhoto):
		ref = PhotoRef(parts[1])
	case len(parts) == 3 && parts[0] == string(KindAlbum):
		ref = AlbumRef(parts[1], parts[2])
	case len(parts) == 2 && parts[0] == string(KindPhotostream):
		ref = PhotostreamRef(parts[1])
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidJobKey, key)
	}
	if err := ref.Validate(); err != nil {
		return Ref{}, fmt.Errorf("%w: %q: %v", ErrInvalidJobKey, key, err)
	}
	return ref, nil
}

// IsNSID reports whether owner is a Flickr account id (e.g. "12345678@N02")
// rather than a path alias that needs resolving.
func IsNSID(owner string) bool {
	at := strings.Index(owner, "@N")
	if at <= 0 || at+2 >= len(owner) {
		return false
	}
	for _, c := range owner[:at] {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range owner[at+2:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
