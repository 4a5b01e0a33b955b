// Package cache provides a Redis-backed response cache for catalog entities.
//
// The catalog served by the remote API changes rarely, so raw response bodies
// are kept in Redis keyed by resource and id. Repeated analysis runs then read
// most entities from the cache instead of issuing a request per id.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Resource: "pokemon", ID: 25}
//
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch from the API, then:
//		entry = cache.NewEntry(body, resp.Header, 24*time.Hour)
//		_ = manager.Set(ctx, key, entry)
//	case err == nil && !entry.FreshAt(time.Now()):
//		// send If-None-Match: entry.ETag; on 304:
//		_ = manager.Set(ctx, key, entry.Renew(resp.Header, 24*time.Hour))
//	}
//
// # Expiry and revalidation
//
// NewEntry honors Cache-Control max-age, then Expires, and falls back to the
// caller's TTL. A stale entry with an ETag stays in Redis for the stale
// retention (DefaultStaleRetention) and Get still returns it, so the body can
// be confirmed with a 304 instead of downloaded again. Stale entries without
// an ETag, and no-store responses, are evicted by their Redis TTL.
//
// # Metrics
//
//   - pokeapi_cache_hits_total - Cache hits
//   - pokeapi_cache_misses_total - Cache misses
//   - pokeapi_cache_stale_total - Stale entries returned for revalidation
//   - pokeapi_cache_stored_bytes_total - Bytes written to the cache
//   - pokeapi_cache_errors_total{operation} - Cache operation errors
package cache
