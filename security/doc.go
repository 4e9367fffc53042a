// Package security provides the safety gates the OAuth client core runs
// before and around every outbound call: SSRF-safe URL validation, fixed
// window rate limiting, string sanitization for log/render surfaces, token
// encryption at rest, expiry checks with clock-skew tolerance, and security
// audit logging.
//
// # Rate limiting
//
// FixedWindowLimiter counts requests per caller key inside a fixed time
// window. The count and the admit/deny decision happen under one lock, so
// two concurrent requests can never both be admitted as the limit-th
// request. Memory is bounded by LRU eviction plus a background cleanup of
// idle keys.
//
//	limiter := security.NewFixedWindowLimiter(3, time.Second, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(ctx, callerKey) {
//	    // deny: caller must back off
//	}
//
// For multi-instance deployments the RateLimiter interface can be satisfied
// by the valkey-backed atomic counter in storage/valkey instead.
//
// # URL validation
//
// URLValidator admits a URL only when the scheme is exactly https, the host
// is on the configured allow-list, and every address the host resolves to is
// publicly routable. All failure modes, DNS errors included, collapse into a
// boolean "not valid" so probing cannot distinguish them.
package security
