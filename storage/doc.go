// Package storage provides interfaces and utilities for OAuth token persistence.
//
// The storage package defines the TokenStore interface that the client uses to
// persist access and refresh tokens across restarts, plus shared helpers for
// encrypting sensitive token fields at rest.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/mock: Mock storage for unit testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
