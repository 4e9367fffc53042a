package storage

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Sentinel errors returned by TokenStore implementations. Callers match with
// errors.Is; implementations may wrap them with additional context.
var (
	// ErrTokenNotFound is returned when no token record exists for a user.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a stored token has expired and carries
	// no refresh token to recover with.
	ErrTokenExpired = errors.New("token expired")
)

// TokenStore defines the interface for persisting OAuth tokens.
// This allows using in-memory, Valkey, database, or other storage backends.
// Token records use golang.org/x/oauth2.Token directly.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveTokens persists the token record for a user, replacing any
	// previous record.
	SaveTokens(ctx context.Context, userID string, token *oauth2.Token) error

	// LoadTokens retrieves the token record for a user.
	// Returns ErrTokenNotFound if no record exists.
	LoadTokens(ctx context.Context, userID string) (*oauth2.Token, error)

	// DeleteTokens removes the token record for a user.
	// Deleting a missing record is not an error.
	DeleteTokens(ctx context.Context, userID string) error
}
