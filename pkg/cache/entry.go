package cache

import (
	"time"
)

// Entry is one cached entity document.
//
// An entry is served directly while fresh. Once stale it is kept only if it
// carries an ETag, so the client can confirm it with If-None-Match instead
// of downloading the body again.
type Entry struct {
	Data []byte `json:"data"`

	// ETag is the validator sent back as If-None-Match
	ETag string `json:"etag,omitempty"`

	FreshUntil time.Time `json:"fresh_until"`

	// CachedAt is when the body was downloaded; revalidation keeps it
	CachedAt time.Time `json:"cached_at"`

	// Revalidations counts 304 answers since the body was downloaded
	Revalidations int `json:"revalidations,omitempty"`
}

// FreshAt reports whether the entry may be used at t without asking the API.
func (e *Entry) FreshAt(t time.Time) bool {
	return t.Before(e.FreshUntil)
}

// Revalidatable reports whether a stale entry can be confirmed by the API.
func (e *Entry) Revalidatable() bool {
	return e.ETag != ""
}

// TTL is the remaining freshness, zero once stale.
func (e *Entry) TTL() time.Duration {
	return max(time.Until(e.FreshUntil), 0)
}
