package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pokeapi_rate_limit_remaining",
		Help: "Last X-RateLimit-Remaining value reported by the API",
	})

	rateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pokeapi_rate_limit_pauses_total",
		Help: "Total number of server-requested pauses",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pokeapi_rate_limit_wait_seconds",
		Help:    "Time spent waiting for permission to send a request",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
)

// maxPause caps any server-requested pause.
const maxPause = 5 * time.Minute

// Tracker gates requests. It is safe for concurrent use.
type Tracker struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
	remaining   int
	lastUpdate  time.Time
}

// NewTracker creates a tracker allowing requestsPerSecond with the given burst.
// A non-positive rate disables pacing; pauses requested by the server still apply.
func NewTracker(requestsPerSecond float64, burst int, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Tracker{
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
		remaining: RemainingUnknown,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if pause := t.State().TimeUntilResume(); pause > 0 {
		t.logger.Debug().Dur("pause", pause).Msg("Waiting for server-requested pause")
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// UpdateFromHeaders records the server's rate limit signals from a response.
//
// Retry-After on a 429 or 503 pauses all callers for the given delay.
// X-RateLimit-Remaining of 0 pauses until X-RateLimit-Reset, which may be
// either seconds from now or a unix timestamp.
func (t *Tracker) UpdateFromHeaders(statusCode int, headers http.Header) error {
	now := time.Now()
	var pause time.Duration
	var parseErr error

	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable {
		if v := headers.Get(HeaderRetryAfter); v != "" {
			d, err := parseRetryAfter(v, now)
			if err != nil {
				parseErr = fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
			} else {
				pause = d
			}
		}
	}

	remaining := RemainingUnknown
	if v := headers.Get(HeaderRemaining); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		remaining = n
		rateLimitRemaining.Set(float64(n))

		if n <= 0 {
			if reset := headers.Get(HeaderReset); reset != "" {
				d, err := parseReset(reset, now)
				if err != nil {
					return fmt.Errorf("parse %s header: %w", HeaderReset, err)
				}
				pause = max(pause, d)
			}
		}
	}

	if pause > maxPause {
		pause = maxPause
	}

	t.mu.Lock()
	if remaining != RemainingUnknown {
		t.remaining = remaining
	}
	if pause > 0 && now.Add(pause).After(t.pausedUntil) {
		t.pausedUntil = now.Add(pause)
	}
	if remaining != RemainingUnknown || pause > 0 {
		t.lastUpdate = now
	}
	t.mu.Unlock()

	if pause > 0 {
		rateLimitPausesTotal.Inc()
		t.logger.Warn().
			Int("status_code", statusCode).
			Int("remaining", remaining).
			Dur("pause", pause).
			Msg("API asked us to back off - pausing requests")
	}

	return parseErr
}

// State returns a snapshot of the current tracker state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Limit:       t.limiter.Limit(),
		Burst:       t.limiter.Burst(),
		Remaining:   t.remaining,
		PausedUntil: t.pausedUntil,
		LastUpdate:  t.lastUpdate,
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, error) {
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("negative delay %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, err
	}
	if at.Before(now) {
		return 0, nil
	}
	return at.Sub(now), nil
}

// unixThreshold separates relative seconds from absolute unix timestamps.
const unixThreshold = 1_000_000_000

func parseReset(v string, now time.Time) (time.Duration, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < unixThreshold {
		if n < 0 {
			return 0, nil
		}
		return time.Duration(n) * time.Second, nil
	}
	at := time.Unix(n, 0)
	if at.Before(now) {
		return 0, nil
	}
	return at.Sub(now), nil
}
