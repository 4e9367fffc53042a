// Package memory provides an in-memory implementation of the TokenStore
// interface. It is suitable for development, testing, and single-instance
// deployments.
//
// The store supports optional encryption at rest via security.Encryptor and
// runs a background janitor that evicts expired token records which carry no
// refresh token. Call Stop when the store is no longer needed.
package memory
