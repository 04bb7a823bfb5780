package cache

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Entry is a stored value. A negative entry (NotFound) records that the
// resource is unavailable and carries no data.
type Entry struct {
	NotFound bool `json:"not_found,omitempty"`

	// Data is the JSON payload.
	Data json.RawMessage `json:"data,omitempty"`

	CachedAt time.Time `json:"cached_at"`

	// ExpiresAt is zero for entries without a TTL.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the entry is past its TTL at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Decode unmarshals Data into v.
func (e *Entry) Decode(v any) error {
	if e.NotFound {
		return fmt.Errorf("%w: decode of negative entry", ErrInvalidEntry)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
