package cache

import (
	"testing"
	"time"
)

func TestEntry_FreshAt(t *testing.T) {
	cachedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{CachedAt: cachedAt, FreshUntil: cachedAt.Add(time.Hour)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"when cached", cachedAt, true},
		{"one second before stale", cachedAt.Add(time.Hour - time.Second), true},
		{"at the freshness limit", cachedAt.Add(time.Hour), false},
		{"a day later", cachedAt.Add(24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.FreshAt(tt.at); got != tt.want {
				t.Errorf("FreshAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestEntry_Revalidatable(t *testing.T) {
	if (&Entry{}).Revalidatable() {
		t.Error("entry without ETag reported revalidatable")
	}
	if !(&Entry{ETag: `W/"pokemon-25"`}).Revalidatable() {
		t.Error("entry with ETag reported not revalidatable")
	}
}

func TestEntry_TTLNeverNegative(t *testing.T) {
	stale := &Entry{FreshUntil: time.Now().Add(-time.Minute)}
	if got := stale.TTL(); got != 0 {
		t.Errorf("stale TTL() = %v, want 0", got)
	}

	fresh := &Entry{FreshUntil: time.Now().Add(90 * time.Second)}
	if got := fresh.TTL(); got <= time.Minute || got > 90*time.Second {
		t.Errorf("fresh TTL() = %v, want (1m, 1m30s]", got)
	}
}
