package oauth

import (
	"crypto/ecdsa"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/giantswarm/dpop-oauth/instrumentation"
	"github.com/giantswarm/dpop-oauth/security"
	"github.com/giantswarm/dpop-oauth/storage"
)

// Default configuration values
const (
	DefaultRateLimitMaxRequests = 10
	DefaultRateLimitWindow      = time.Minute
	DefaultHTTPTimeout          = 30 * time.Second
)

// Config holds the OAuth client configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// ClientID identifies the client to the authorization server (required).
	// For clients using Client ID Metadata Documents this is the HTTPS URL
	// of the hosted metadata document.
	ClientID string

	// RedirectURI is where the authorization server redirects after
	// user approval (required).
	RedirectURI string

	// Scopes are the OAuth scopes requested during authorization.
	Scopes []string

	// UserID is the opaque identity key under which tokens are persisted
	// (required). The value is never sent to the authorization server.
	UserID string

	// SigningKey is the P-256 private key used to sign DPoP proofs (required).
	// Generate with dpop.GenerateKey().
	SigningKey *ecdsa.PrivateKey

	// Endpoints are the authorization server endpoints (all required).
	Endpoints EndpointConfig

	// TokenStore persists tokens across restarts (required).
	// Use storage/memory for single-process deployments, storage/valkey
	// for shared deployments.
	TokenStore storage.TokenStore

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for OAuth requests
	// If not provided, a client with a 30 second timeout is used
	// Can be used to add proxies, logging, metrics, etc.
	HTTPClient *http.Client

	// Instrumentation provides metrics and tracing (optional).
	Instrumentation *instrumentation.Instrumentation
}

// EndpointConfig holds the authorization server endpoint URLs
type EndpointConfig struct {
	// PushedAuthorization is the PAR endpoint (RFC 9126).
	PushedAuthorization string

	// Authorization is the authorization endpoint the user agent is sent to.
	Authorization string

	// Token is the token endpoint.
	Token string
}

// RateLimitConfig holds rate limiting configuration for BeginAuthorization
type RateLimitConfig struct {
	// MaxRequests is the number of authorization starts allowed per caller
	// key per window. Default: 10.
	MaxRequests int

	// Window is the fixed rate limiting window. Default: 1 minute.
	Window time.Duration

	// Limiter overrides the built-in in-process limiter. Use
	// (*valkey.Store).NewRateLimiter for a limit shared across replicas.
	Limiter security.RateLimiter

	// OutboundRate caps outbound requests per second to the authorization
	// server. Zero disables pacing.
	OutboundRate float64

	// OutboundBurst is the burst size for outbound pacing. Default: 1 when
	// OutboundRate is set.
	OutboundBurst int
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// AllowedHosts are the hosts outbound requests may target. If empty,
	// the list is derived from the configured endpoint URLs. Requests to
	// any other host are rejected before any traffic is sent.
	AllowedHosts []string

	// EncryptionKey is the AES-256 key (32 bytes) installed on the token
	// store at construction. Requires a TokenStore implementing
	// EncryptingTokenStore; New fails otherwise. Nil disables encryption.
	// Generate with security.GenerateEncryptionKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool

	// ResolveTimeout bounds DNS resolution during URL validation.
	// Default: 5 seconds.
	ResolveTimeout time.Duration

	// AllowPrivateHosts admits allow-listed hosts that resolve to loopback
	// or private addresses, and permits plain http endpoints.
	// WARNING: disables SSRF protection. Only for local development against
	// an authorization server on a private network.
	AllowPrivateHosts bool
}

// EncryptingTokenStore is a token store that encrypts records at rest.
// storage/memory and storage/valkey both satisfy it.
type EncryptingTokenStore interface {
	storage.TokenStore
	SetEncryptor(enc *security.Encryptor)
}

// Validate checks that the configuration is complete enough to build a client.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return ErrConfiguration("ClientID is required")
	}
	if c.RedirectURI == "" {
		return ErrConfiguration("RedirectURI is required")
	}
	if c.UserID == "" {
		return ErrConfiguration("UserID is required")
	}
	if c.SigningKey == nil {
		return ErrConfiguration("SigningKey is required")
	}
	if c.TokenStore == nil {
		return ErrConfiguration("TokenStore is required")
	}
	if c.Endpoints.PushedAuthorization == "" {
		return ErrConfiguration("Endpoints.PushedAuthorization is required")
	}
	if c.Endpoints.Authorization == "" {
		return ErrConfiguration("Endpoints.Authorization is required")
	}
	if c.Endpoints.Token == "" {
		return ErrConfiguration("Endpoints.Token is required")
	}
	for _, endpoint := range []string{
		c.Endpoints.PushedAuthorization,
		c.Endpoints.Authorization,
		c.Endpoints.Token,
		c.RedirectURI,
	} {
		if _, err := url.Parse(endpoint); err != nil {
			return ErrConfiguration("invalid URL: " + endpoint).WithCause(err)
		}
	}
	return nil
}

// allowedHosts returns the configured allow-list, or one derived from the
// endpoint URLs when none was set.
func (c *Config) allowedHosts() []string {
	if len(c.Security.AllowedHosts) > 0 {
		return c.Security.AllowedHosts
	}
	seen := make(map[string]bool)
	var hosts []string
	for _, endpoint := range []string{
		c.Endpoints.PushedAuthorization,
		c.Endpoints.Authorization,
		c.Endpoints.Token,
	} {
		u, err := url.Parse(endpoint)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := u.Hostname()
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts
}
