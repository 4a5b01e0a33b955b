// Package ratelimit paces outgoing API requests and honours the server's
// back-off signals. A token bucket spaces requests out; Retry-After and
// X-RateLimit-* response headers pause all callers until the server is
// ready again.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Response headers inspected by the tracker.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
)

// RemainingUnknown is reported until the server sends X-RateLimit-Remaining.
const RemainingUnknown = -1

// State is a snapshot of the tracker.
type State struct {
	// Limit is the steady request rate (rate.Inf when pacing is disabled).
	Limit rate.Limit `json:"limit"`

	// Burst is the token bucket size.
	Burst int `json:"burst"`

	// Remaining is the last X-RateLimit-Remaining value, or RemainingUnknown.
	Remaining int `json:"remaining"`

	// PausedUntil is set while the server asked us to back off.
	PausedUntil time.Time `json:"paused_until"`

	// LastUpdate is when a response last changed the state.
	LastUpdate time.Time `json:"last_update"`
}

// IsPaused returns true while requests must not be sent.
func (s State) IsPaused() bool {
	return time.Now().Before(s.PausedUntil)
}

// TimeUntilResume returns how long callers still have to wait.
// Returns 0 if no pause is active.
func (s State) TimeUntilResume() time.Duration {
	d := time.Until(s.PausedUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
