package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestNewEntry_Expiry(t *testing.T) {
	fallback := 24 * time.Hour

	tests := []struct {
		name    string
		headers http.Header
		wantMin time.Duration
		wantMax time.Duration
	}{
		{
			name:    "max-age wins",
			headers: http.Header{"Cache-Control": []string{"public, max-age=600"}},
			wantMin: 599 * time.Second,
			wantMax: 601 * time.Second,
		},
		{
			name: "expires header",
			headers: http.Header{
				"Expires": []string{time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)},
			},
			wantMin: 58 * time.Minute,
			wantMax: 61 * time.Minute,
		},
		{
			name:    "expired expires header",
			headers: http.Header{"Expires": []string{time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)}},
			wantMin: 0,
			wantMax: 0,
		},
		{
			name:    "no-store",
			headers: http.Header{"Cache-Control": []string{"no-store"}},
			wantMin: 0,
			wantMax: 0,
		},
		{
			name:    "no headers uses fallback",
			headers: http.Header{},
			wantMin: fallback - time.Minute,
			wantMax: fallback,
		},
		{
			name:    "malformed max-age uses fallback",
			headers: http.Header{"Cache-Control": []string{"max-age=soon"}},
			wantMin: fallback - time.Minute,
			wantMax: fallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := NewEntry([]byte(`{}`), tt.headers, fallback)
			got := entry.TTL()
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestNewEntry_CopiesFields(t *testing.T) {
	headers := http.Header{"Etag": []string{`W/"abc"`}}
	entry := NewEntry([]byte(`{"id":1}`), headers, time.Hour)

	if string(entry.Data) != `{"id":1}` {
		t.Errorf("Data = %s", entry.Data)
	}
	if entry.ETag != `W/"abc"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt not set")
	}
}

func TestNewEntry_NoStoreDropsValidator(t *testing.T) {
	headers := http.Header{
		"Cache-Control": []string{"private, no-store"},
		"Etag":          []string{`W/"abc"`},
	}
	entry := NewEntry([]byte(`{}`), headers, time.Hour)

	if entry.Revalidatable() {
		t.Errorf("no-store entry kept ETag %q", entry.ETag)
	}
	if entry.FreshAt(time.Now().Add(time.Second)) {
		t.Error("no-store entry is fresh")
	}
}

func TestNewEntry_NoCacheKeepsValidator(t *testing.T) {
	headers := http.Header{
		"Cache-Control": []string{"no-cache"},
		"Etag":          []string{`W/"abc"`},
	}
	entry := NewEntry([]byte(`{}`), headers, time.Hour)

	if !entry.Revalidatable() {
		t.Error("no-cache entry lost its ETag")
	}
}

func TestEntry_Renew(t *testing.T) {
	cachedAt := time.Now().Add(-48 * time.Hour)
	stale := &Entry{
		Data:       []byte(`{"id":25}`),
		ETag:       `W/"pokemon-25"`,
		FreshUntil: cachedAt.Add(24 * time.Hour),
		CachedAt:   cachedAt,
	}

	tests := []struct {
		name     string
		headers  http.Header
		wantETag string
		wantMin  time.Duration
		wantMax  time.Duration
	}{
		{
			name:     "max-age restarts freshness",
			headers:  http.Header{"Cache-Control": []string{"max-age=300"}},
			wantETag: `W/"pokemon-25"`,
			wantMin:  299 * time.Second,
			wantMax:  300 * time.Second,
		},
		{
			name:     "no headers uses fallback",
			headers:  http.Header{},
			wantETag: `W/"pokemon-25"`,
			wantMin:  time.Hour - time.Minute,
			wantMax:  time.Hour,
		},
		{
			name:     "new validator replaces old",
			headers:  http.Header{"Etag": []string{`W/"pokemon-25-v2"`}},
			wantETag: `W/"pokemon-25-v2"`,
			wantMin:  time.Hour - time.Minute,
			wantMax:  time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renewed := stale.Renew(tt.headers, time.Hour)

			if got := renewed.TTL(); got < tt.wantMin || got > tt.wantMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantMin, tt.wantMax)
			}
			if renewed.ETag != tt.wantETag {
				t.Errorf("ETag = %q, want %q", renewed.ETag, tt.wantETag)
			}
			if string(renewed.Data) != string(stale.Data) {
				t.Errorf("Data = %s, want %s", renewed.Data, stale.Data)
			}
			if !renewed.CachedAt.Equal(cachedAt) {
				t.Errorf("CachedAt = %v, want %v", renewed.CachedAt, cachedAt)
			}
			if renewed.Revalidations != 1 {
				t.Errorf("Revalidations = %d, want 1", renewed.Revalidations)
			}
		})
	}

	if stale.Revalidations != 0 || stale.ETag != `W/"pokemon-25"` {
		t.Error("Renew modified the original entry")
	}
}
