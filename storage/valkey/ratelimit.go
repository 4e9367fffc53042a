package valkey

import (
	"context"
	"strconv"
	"time"

	"github.com/giantswarm/dpop-oauth/security"
)

// luaFixedWindowIncr atomically increments a fixed-window counter and stamps
// the window TTL on first increment. The count-and-decide step happens inside
// Valkey, so the admit decision stays atomic even when several client
// instances share the same counter.
//
// KEYS[1] = rate limit counter key
// ARGV[1] = window length in milliseconds
//
// Returns the counter value after the increment.
const luaFixedWindowIncr = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RateLimiter is a Valkey-backed fixed-window rate limiter. Unlike the
// in-process security.FixedWindowLimiter, the counter is shared across all
// client instances pointing at the same Valkey.
type RateLimiter struct {
	store       *Store
	maxRequests int64
	window      time.Duration
}

var _ security.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a distributed fixed-window rate limiter on top of
// an existing Store. maxRequests and window must be positive.
func (s *Store) NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		store:       s,
		maxRequests: int64(maxRequests),
		window:      window,
	}
}

// Allow reports whether the caller identified by key is admitted in the
// current window. Valkey errors deny the request: a broken limiter must not
// become an open gate.
func (r *RateLimiter) Allow(ctx context.Context, key string) bool {
	s := r.store

	count, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaFixedWindowIncr).
			Numkeys(1).
			Key(s.rateLimitKey(key)).
			Arg(formatMillis(r.window)).
			Build(),
	).AsInt64()
	if err != nil {
		s.logger.Warn("Rate limit check failed, denying request", "error", err)
		return false
	}

	if count > r.maxRequests {
		s.logger.Warn("Rate limit exceeded", "key", key, "count", count, "max", r.maxRequests)
		return false
	}
	return true
}

func formatMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
