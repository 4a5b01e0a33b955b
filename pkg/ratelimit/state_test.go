package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsPaused(t *testing.T) {
	tests := []struct {
		name        string
		pausedUntil time.Time
		expected    bool
	}{
		{
			name:     "never paused",
			expected: false,
		},
		{
			name:        "pause in the future",
			pausedUntil: time.Now().Add(30 * time.Second),
			expected:    true,
		},
		{
			name:        "pause already over",
			pausedUntil: time.Now().Add(-time.Second),
			expected:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{PausedUntil: tt.pausedUntil}
			if got := s.IsPaused(); got != tt.expected {
				t.Errorf("IsPaused() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilResume(t *testing.T) {
	tests := []struct {
		name        string
		pausedUntil time.Time
		wantMin     time.Duration
		wantMax     time.Duration
	}{
		{
			name:        "future pause",
			pausedUntil: time.Now().Add(30 * time.Second),
			wantMin:     29 * time.Second,
			wantMax:     31 * time.Second,
		},
		{
			name:        "past pause",
			pausedUntil: time.Now().Add(-30 * time.Second),
			wantMin:     0,
			wantMax:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := State{PausedUntil: tt.pausedUntil}.TimeUntilResume()
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("TimeUntilResume() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		expected   bool
	}{
		{"fresh state", time.Now(), 5 * time.Minute, false},
		{"stale state", time.Now().Add(-10 * time.Minute), 5 * time.Minute, true},
		{"just under max age", time.Now().Add(-4 * time.Minute), 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{LastUpdate: tt.lastUpdate}
			if got := s.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}
