package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func newTestTracker(rps float64, burst int) *Tracker {
	return NewTracker(rps, burst, zerolog.Nop())
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := newTestTracker(0, 0)
	state := tr.State()

	if state.Limit != rate.Inf {
		t.Errorf("Limit = %v, want rate.Inf", state.Limit)
	}
	if state.Burst != 1 {
		t.Errorf("Burst = %d, want 1", state.Burst)
	}
	if state.Remaining != RemainingUnknown {
		t.Errorf("Remaining = %d, want %d", state.Remaining, RemainingUnknown)
	}
	if state.IsPaused() {
		t.Error("new tracker should not be paused")
	}
}

func TestUpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		headers       map[string]string
		wantPaused    bool
		wantRemaining int
		wantErr       bool
	}{
		{
			name:          "no headers",
			status:        http.StatusOK,
			wantRemaining: RemainingUnknown,
		},
		{
			name:          "remaining only",
			status:        http.StatusOK,
			headers:       map[string]string{HeaderRemaining: "42", HeaderReset: "60"},
			wantRemaining: 42,
		},
		{
			name:          "retry-after on 429",
			status:        http.StatusTooManyRequests,
			headers:       map[string]string{HeaderRetryAfter: "2"},
			wantPaused:    true,
			wantRemaining: RemainingUnknown,
		},
		{
			name:          "retry-after ignored on 200",
			status:        http.StatusOK,
			headers:       map[string]string{HeaderRetryAfter: "2"},
			wantRemaining: RemainingUnknown,
		},
		{
			name:          "exhausted window pauses until reset",
			status:        http.StatusOK,
			headers:       map[string]string{HeaderRemaining: "0", HeaderReset: "3"},
			wantPaused:    true,
			wantRemaining: 0,
		},
		{
			name:   "exhausted window with unix reset",
			status: http.StatusOK,
			headers: map[string]string{
				HeaderRemaining: "0",
				HeaderReset:     strconv.FormatInt(time.Now().Add(10*time.Second).Unix(), 10),
			},
			wantPaused:    true,
			wantRemaining: 0,
		},
		{
			name:          "malformed remaining",
			status:        http.StatusOK,
			headers:       map[string]string{HeaderRemaining: "lots"},
			wantRemaining: RemainingUnknown,
			wantErr:       true,
		},
		{
			name:          "malformed retry-after",
			status:        http.StatusServiceUnavailable,
			headers:       map[string]string{HeaderRetryAfter: "later"},
			wantRemaining: RemainingUnknown,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(0, 1)
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			err := tr.UpdateFromHeaders(tt.status, headers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("UpdateFromHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}

			state := tr.State()
			if state.IsPaused() != tt.wantPaused {
				t.Errorf("IsPaused() = %v, want %v", state.IsPaused(), tt.wantPaused)
			}
			if state.Remaining != tt.wantRemaining {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemaining)
			}
		})
	}
}

func TestUpdateFromHeaders_PauseIsCapped(t *testing.T) {
	tr := newTestTracker(0, 1)
	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "86400")

	if err := tr.UpdateFromHeaders(http.StatusTooManyRequests, headers); err != nil {
		t.Fatal(err)
	}
	if got := tr.State().TimeUntilResume(); got > maxPause {
		t.Errorf("pause = %v, want at most %v", got, maxPause)
	}
}

func TestUpdateFromHeaders_ShorterPauseDoesNotShrink(t *testing.T) {
	tr := newTestTracker(0, 1)

	long := http.Header{}
	long.Set(HeaderRetryAfter, "30")
	short := http.Header{}
	short.Set(HeaderRetryAfter, "1")

	_ = tr.UpdateFromHeaders(http.StatusTooManyRequests, long)
	_ = tr.UpdateFromHeaders(http.StatusTooManyRequests, short)

	if got := tr.State().TimeUntilResume(); got < 25*time.Second {
		t.Errorf("pause shrank to %v", got)
	}
}

func TestWait_Unlimited(t *testing.T) {
	tr := newTestTracker(0, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := tr.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("unlimited tracker took %v for 100 waits", elapsed)
	}
}

func TestWait_Paces(t *testing.T) {
	// 20 req/s with burst 1: the 5 extra requests need ~200ms.
	tr := newTestTracker(20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := tr.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("5 paced waits took %v, expected at least 150ms", elapsed)
	}
}

func TestWait_HonoursPause(t *testing.T) {
	tr := newTestTracker(0, 1)
	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "1")
	_ = tr.UpdateFromHeaders(http.StatusTooManyRequests, headers)

	start := time.Now()
	if err := tr.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected ~1s pause", elapsed)
	}
}

func TestWait_ContextCancelledDuringPause(t *testing.T) {
	tr := newTestTracker(0, 1)
	headers := http.Header{}
	headers.Set(HeaderRetryAfter, "60")
	_ = tr.UpdateFromHeaders(http.StatusTooManyRequests, headers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tr.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Now()

	d, err := parseRetryAfter("5", now)
	if err != nil || d != 5*time.Second {
		t.Errorf("parseRetryAfter(5) = %v, %v", d, err)
	}

	date := now.Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d, err = parseRetryAfter(date, now)
	if err != nil || d < 85*time.Second || d > 91*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, %v", d, err)
	}

	if _, err := parseRetryAfter("-1", now); err == nil {
		t.Error("negative delay should error")
	}
}
