package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event type constants for security audit logging. Constants keep event
// names consistent across the codebase and greppable in log pipelines.
const (
	// EventAuthorizationStarted is logged when a pushed authorization request succeeds.
	EventAuthorizationStarted = "authorization_started"

	// EventAuthorizationCompleted is logged when an authorization code is exchanged for tokens.
	EventAuthorizationCompleted = "authorization_completed"

	// EventTokenRefreshed is logged when an access token is refreshed.
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshCapabilityLost is logged when a refresh response omits a new
	// refresh token, leaving the session unable to refresh again.
	EventRefreshCapabilityLost = "refresh_capability_lost"

	// EventLogout is logged when a session's tokens are deleted.
	EventLogout = "logout"

	// EventRateLimitExceeded is logged when the authorization-initiation rate limit denies a caller.
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventURLRejected is logged when the SSRF gate rejects an outbound target.
	EventURLRejected = "url_rejected"
)

// Auditor handles security event logging with PII protection. User
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationStarted logs a successful pushed authorization request.
func (a *Auditor) LogAuthorizationStarted(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationStarted,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAuthorizationCompleted logs a successful code exchange.
func (a *Auditor) LogAuthorizationCompleted(userID, clientID string, hasRefreshToken bool) {
	a.LogEvent(Event{
		Type:     EventAuthorizationCompleted,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"refresh_token_present": hasRefreshToken,
		},
	})
}

// LogTokenRefreshed logs a token refresh. rotated reports whether the server
// returned a new refresh token.
func (a *Auditor) LogTokenRefreshed(userID, clientID string, rotated bool) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogRefreshCapabilityLost logs that a refresh response carried no new
// refresh token, matching the upstream contract exactly: no retention of the
// old one.
func (a *Auditor) LogRefreshCapabilityLost(userID, clientID string) {
	a.LogEvent(Event{
		Type:     EventRefreshCapabilityLost,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogLogout logs a session logout.
func (a *Auditor) LogLogout(userID, clientID string) {
	a.LogEvent(Event{
		Type:     EventLogout,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogRateLimitExceeded logs a rate limit denial.
func (a *Auditor) LogRateLimitExceeded(callerKey, clientID string) {
	a.LogEvent(Event{
		Type:     EventRateLimitExceeded,
		UserID:   callerKey,
		ClientID: clientID,
	})
}

// LogURLRejected logs an SSRF gate rejection. The URL is logged as-is: it
// came from configuration, not from a user credential.
func (a *Auditor) LogURLRejected(clientID, rejectedURL string) {
	a.LogEvent(Event{
		Type:     EventURLRejected,
		ClientID: clientID,
		Details: map[string]any{
			"url": SanitizeString(rejectedURL),
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
