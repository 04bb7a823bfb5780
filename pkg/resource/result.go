package resource

// Status tags the outcome of a fetch.
type Status int

const (
	// StatusFound means Value holds the payload.
	StatusFound Status = iota

	// StatusNotFound means the resource is definitively unavailable for the
	// negative-cache TTL (missing, private, malformed).
	StatusNotFound

	// StatusRateLimited means the call was refused or deferred (HTTP 429,
	// local quota exhausted, server trouble, per-resource backoff). Never
	// cached; the caller should try again later.
	StatusRateLimited
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Result is Found(value) | NotFound | RateLimited.
type Result[T any] struct {
	Status Status
	Value  T
}

// Found wraps a payload.
func Found[T any](v T) Result[T] { return Result[T]{Status: StatusFound, Value: v} }

// NotFound is the negative outcome.
func NotFound[T any]() Result[T] { return Result[T]{Status: StatusNotFound} }

// RateLimited is the deferred outcome.
func RateLimited[T any]() Result[T] { return Result[T]{Status: StatusRateLimited} }

// OK reports whether the result carries a value.
func (r Result[T]) OK() bool { return r.Status == StatusFound }

// IsNotFound reports a negative result.
func (r Result[T]) IsNotFound() bool { return r.Status == StatusNotFound }

// IsRateLimited reports a deferred result.
func (r Result[T]) IsRateLimited() bool { return r.Status == StatusRateLimited }

// Map converts a Result[T] into a Result[U], keeping the tag.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.Status != StatusFound {
		return Result[U]{Status: r.Status}
	}
	return Found(fn(r.Value))
}
