package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for token
	// expiration checks. It absorbs time synchronization drift between the
	// client and the authorization server.
	//
	// The grace runs against the token: a token is treated as expired this
	// long before its stated expiry, so drift can never make the client
	// present a token the server already considers dead.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsTokenExpired checks if a token is expired with the default clock skew
// grace period. A zero expiry means the token does not expire.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks if a token is expired with a custom
// clock skew grace period. The token counts as expired gracePeriod before
// expiresAt.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false // no expiration tracked
	}
	return time.Now().Add(gracePeriod).After(expiresAt)
}

// IsTokenExpiringSoon checks if a token will expire within the given
// threshold. Callers use this to refresh proactively instead of racing the
// expiry on the next protected-resource call.
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
