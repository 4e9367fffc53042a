package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/giantswarm/dpop-oauth/dpop"
	"github.com/giantswarm/dpop-oauth/instrumentation"
	"github.com/giantswarm/dpop-oauth/security"
	"github.com/giantswarm/dpop-oauth/storage"
)

// Endpoint classes for DPoP server nonce tracking
const (
	nonceClassAuthServer = "authserver"
	nonceClassResource   = "resource"
)

// Client drives the authorization code flow with PAR, PKCE and DPoP for a
// single user session against a single authorization server. All mutating
// operations are serialized by an internal mutex; accessors take read
// snapshots. A Client is safe for concurrent use.
type Client struct {
	config     Config
	logger     *slog.Logger
	httpClient *http.Client
	signer     *dpop.Signer
	validator  *security.URLValidator
	limiter    security.RateLimiter
	ownLimiter *security.FixedWindowLimiter
	pacer      *rate.Limiter
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer

	mu    sync.Mutex
	state State
	token *oauth2.Token

	// nonces holds the latest DPoP-Nonce response header per endpoint class
	nonces map[string]string
}

// New creates a client from the given configuration. No partial client is
// ever returned: any configuration problem fails construction.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	signer, err := dpop.NewSigner(config.SigningKey)
	if err != nil {
		return nil, ErrConfiguration("invalid signing key").WithCause(err)
	}

	if key := config.Security.EncryptionKey; len(key) > 0 {
		enc, err := security.NewEncryptor(key)
		if err != nil {
			return nil, ErrConfiguration("invalid encryption key").WithCause(err)
		}
		store, ok := config.TokenStore.(EncryptingTokenStore)
		if !ok {
			return nil, ErrConfiguration("Security.EncryptionKey is set but the token store does not support encryption at rest")
		}
		store.SetEncryptor(enc)
	}

	validator := security.NewURLValidator(config.allowedHosts(), logger).
		WithResolveTimeout(config.Security.ResolveTimeout)
	if config.Security.AllowPrivateHosts {
		validator = validator.AllowPrivateHosts()
		logger.Warn("URL validation admits private hosts; do not use in production")
	}

	c := &Client{
		config:     config,
		logger:     logger,
		httpClient: httpClient,
		signer:     signer,
		validator:  validator,
		auditor:    security.NewAuditor(logger, config.Security.EnableAuditLogging),
		state:      StateUnauthenticated,
		nonces:     make(map[string]string),
	}

	if config.RateLimit.Limiter != nil {
		c.limiter = config.RateLimit.Limiter
	} else {
		maxRequests := config.RateLimit.MaxRequests
		if maxRequests <= 0 {
			maxRequests = DefaultRateLimitMaxRequests
		}
		window := config.RateLimit.Window
		if window <= 0 {
			window = DefaultRateLimitWindow
		}
		c.ownLimiter = security.NewFixedWindowLimiter(maxRequests, window, logger)
		c.limiter = c.ownLimiter
	}

	if config.RateLimit.OutboundRate > 0 {
		burst := config.RateLimit.OutboundBurst
		if burst <= 0 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(config.RateLimit.OutboundRate), burst)
	} else {
		c.pacer = rate.NewLimiter(rate.Inf, 0)
	}

	if config.Instrumentation != nil {
		c.metrics = config.Instrumentation.Metrics()
		c.tracer = config.Instrumentation.Tracer("client")
	} else {
		c.tracer = tracenoop.NewTracerProvider().Tracer("client")
	}

	return c, nil
}

// UserID returns the identity key tokens are persisted under.
func (c *Client) UserID() string {
	return c.config.UserID
}

// State returns the session state. StateExpired is derived: it is reported
// while a token record exists whose access token is past its expiry.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	if c.token != nil && security.IsTokenExpired(c.token.Expiry) {
		return StateExpired
	}
	return c.state
}

// Token returns a copy of the current token record, or nil when none exists.
// The copy does not carry Extra fields.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	copied := *c.token
	return &copied
}

// HydrateFromStore loads a previously persisted token record so a session
// survives process restarts. A missing record leaves the session
// unauthenticated and is not an error; an expired record still hydrates so
// a later resource call can refresh it.
func (c *Client) HydrateFromStore(ctx context.Context) error {
	token, err := c.config.TokenStore.LoadTokens(ctx, c.config.UserID)
	if err != nil {
		// An expired record without refresh capability is as good as
		// absent; the session simply starts unauthenticated.
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.state = StateAuthenticated
	return nil
}

// Logout deletes the durable token record and clears the in-memory session.
// Calling it on an already logged-out session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.config.TokenStore.DeleteTokens(ctx, c.config.UserID); err != nil {
		return err
	}

	c.token = nil
	c.state = StateUnauthenticated
	c.auditor.LogLogout(c.config.UserID, c.config.ClientID)
	return nil
}

// Close releases resources owned by the client. It does not touch stored
// tokens.
func (c *Client) Close() {
	if c.ownLimiter != nil {
		c.ownLimiter.Stop()
	}
}

// setNonceLocked records the latest DPoP-Nonce value for an endpoint class.
// Caller must hold c.mu.
func (c *Client) setNonceLocked(class, nonce string) {
	if nonce != "" {
		c.nonces[class] = nonce
	}
}

func (c *Client) nonceLocked(class string) string {
	return c.nonces[class]
}
