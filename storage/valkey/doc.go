// Package valkey provides a Valkey/Redis-compatible implementation of the
// TokenStore interface for distributed deployments.
//
// Token records are stored as JSON with a TTL derived from the token expiry.
// Records carrying a refresh token are retained longer, since the client can
// still refresh them after the access token expires.
//
// The package also provides a Valkey-backed fixed-window rate limiter whose
// admit decision is atomic across instances (Lua INCR+PEXPIRE), satisfying
// the security.RateLimiter contract for multi-instance deployments.
//
// Usage:
//
//	store, err := valkey.New(valkey.Config{
//		Address: "localhost:6379",
//	})
//	if err != nil {
//		// handle error
//	}
//	defer store.Close()
//
// Optional encryption at rest:
//
//	enc, _ := security.NewEncryptor(key)
//	store.SetEncryptor(enc)
package valkey
