package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// NewEntry builds a cache entry from a successful response body and headers.
// Freshness comes from Cache-Control max-age, then Expires, then fallbackTTL.
func NewEntry(body []byte, headers http.Header, fallbackTTL time.Duration) *Entry {
	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       headers.Get("ETag"),
		FreshUntil: parseExpires(headers, now, fallbackTTL),
		CachedAt:   now,
	}
	if hasDirective(headers.Get("Cache-Control"), "no-store") {
		// Without a validator Set drops the stale entry.
		entry.ETag = ""
	}
	return entry
}

// Renew returns a copy of e confirmed by a 304 response. Freshness restarts
// from the 304 headers and a new ETag in them replaces the old one.
func (e *Entry) Renew(headers http.Header, fallbackTTL time.Duration) *Entry {
	renewed := *e
	renewed.FreshUntil = parseExpires(headers, time.Now(), fallbackTTL)
	if etag := headers.Get("ETag"); etag != "" {
		renewed.ETag = etag
	}
	renewed.Revalidations++
	return &renewed
}

// parseExpires determines when a response stops being fresh.
func parseExpires(headers http.Header, now time.Time, fallbackTTL time.Duration) time.Time {
	if maxAge, ok := parseMaxAge(headers.Get("Cache-Control")); ok {
		return now.Add(maxAge)
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			if expires.Before(now) {
				return now
			}
			return expires
		}
	}

	return now.Add(fallbackTTL)
}

// parseMaxAge extracts max-age from a Cache-Control header.
// no-store and no-cache yield a zero duration.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	if cacheControl == "" {
		return 0, false
	}
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		switch {
		case directive == "no-store" || directive == "no-cache":
			return 0, true
		case strings.HasPrefix(directive, "max-age="):
			seconds, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err != nil || seconds < 0 {
				return 0, false
			}
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

func hasDirective(cacheControl, name string) bool {
	for _, directive := range strings.Split(cacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(directive), name) {
			return true
		}
	}
	return false
}
