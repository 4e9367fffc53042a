// Package util provides small utility functions shared across the dpop-oauth
// client library.
package util

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when
// logging sensitive data like access tokens, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// RedactToken returns a short, log-safe representation of a credential.
// Empty input yields "(none)" so log lines stay readable.
func RedactToken(token string) string {
	if token == "" {
		return "(none)"
	}
	return SafeTruncate(token, 8) + "..."
}
