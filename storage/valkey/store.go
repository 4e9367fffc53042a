package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/security"
	"github.com/giantswarm/dpop-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// DefaultRefreshTokenRetention is how long a record carrying a refresh
	// token is retained past the access token expiry
	DefaultRefreshTokenRetention = 30 * 24 * time.Hour

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for user identifiers
	MaxIDLength = 256

	// MaxTokenDataSize is the maximum size of serialized token data (64KB).
	// This prevents memory exhaustion from oversized token payloads.
	MaxTokenDataSize = 64 * 1024
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// RefreshTokenRetention is how long records with a refresh token are
	// retained past the access token expiry. Default: 30 days.
	RefreshTokenRetention time.Duration
}

// Store is a Valkey-backed implementation of storage.TokenStore.
type Store struct {
	client                valkeygo.Client
	prefix                string
	logger                *slog.Logger
	refreshTokenRetention time.Duration

	// encryptor provides optional token encryption at rest.
	// Access must be synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var _ storage.TokenStore = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.RefreshTokenRetention
	if retention <= 0 {
		retention = DefaultRefreshTokenRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:                client,
		prefix:                prefix,
		logger:                logger,
		refreshTokenRetention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the token encryptor for encryption at rest.
// When set, access and refresh tokens are encrypted before storing in Valkey
// and decrypted when retrieved.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// tokenTransformFuncs contains the functions used to transform token fields.
type tokenTransformFuncs struct {
	transformString func(string) (string, error)
	transformExtra  func(map[string]interface{}, *security.Encryptor) (map[string]interface{}, error)
	accessErrFmt    string
	refreshErrFmt   string
}

// transformTokenFields applies transformation functions to a token's sensitive
// fields. Returns a new token with transformed fields, leaving the original
// unchanged. Preserves the Extra fields (id_token, scope).
func (s *Store) transformTokenFields(token *oauth2.Token, funcs tokenTransformFuncs) (*oauth2.Token, error) {
	enc := s.getEncryptor()
	if enc == nil || !enc.IsEnabled() {
		return token, nil
	}

	extra := storage.ExtractTokenExtra(token)
	result := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		TokenType:    token.TokenType,
	}

	if result.AccessToken != "" {
		val, err := funcs.transformString(result.AccessToken)
		if err != nil {
			return nil, fmt.Errorf(funcs.accessErrFmt, err)
		}
		result.AccessToken = val
	}

	if result.RefreshToken != "" {
		val, err := funcs.transformString(result.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf(funcs.refreshErrFmt, err)
		}
		result.RefreshToken = val
	}

	if extra != nil {
		transformedExtra, err := funcs.transformExtra(extra, enc)
		if err != nil {
			return nil, err
		}
		result = result.WithExtra(transformedExtra)
	}

	return result, nil
}

// encryptToken encrypts sensitive fields in an oauth2.Token.
func (s *Store) encryptToken(token *oauth2.Token) (*oauth2.Token, error) {
	return s.transformTokenFields(token, tokenTransformFuncs{
		transformString: s.getEncryptor().Encrypt,
		transformExtra:  storage.EncryptExtraFields,
		accessErrFmt:    "failed to encrypt access token: %w",
		refreshErrFmt:   "failed to encrypt refresh token: %w",
	})
}

// decryptToken decrypts sensitive fields in an oauth2.Token.
func (s *Store) decryptToken(token *oauth2.Token) (*oauth2.Token, error) {
	return s.transformTokenFields(token, tokenTransformFuncs{
		transformString: s.getEncryptor().Decrypt,
		transformExtra:  storage.DecryptExtraFields,
		accessErrFmt:    "failed to decrypt access token: %w",
		refreshErrFmt:   "failed to decrypt refresh token: %w",
	})
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, maxLen)
	}
	return nil
}

// tokenKey returns the key for a user's token record: {prefix}token:{userID}
func (s *Store) tokenKey(userID string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, userID)
}

// rateLimitKey returns the key for a rate limit counter: {prefix}ratelimit:{key}
func (s *Store) rateLimitKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", s.prefix, key)
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
