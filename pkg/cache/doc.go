// Package cache provides an optional Redis-backed cache for listing pages.
//
// Scheduled exports often hit the same listing repeatedly within a few
// minutes. When a Redis client is configured the API client stores each page
// response and replays it until it expires, revalidating with conditional
// requests where the server supplied validators.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, 5*time.Minute)
//
//	key := cache.CacheKey{
//		Host:        "connection.keboola.com",
//		Endpoint:    "/v2/storage/files",
//		QueryParams: url.Values{"limit": {"100"}, "offset": {"0"}},
//		Scope:       cache.ScopeFromHeaders(headers),
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Expiry
//
// Entries expire at the response's Expires header. Responses without one are
// kept for the manager's fallback TTL. A fallback TTL of zero disables caching
// of such responses.
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Metrics
//
//   - files_export_cache_hits_total
//   - files_export_cache_misses_total
//   - files_export_cache_size_bytes
//   - files_export_cache_errors_total{operation}
//   - files_export_conditional_requests_total
//   - files_export_304_responses_total
package cache
