package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/instrumentation"
	"github.com/giantswarm/dpop-oauth/security"
	"github.com/giantswarm/dpop-oauth/storage"
)

// Store is an in-memory implementation of storage.TokenStore.
type Store struct {
	mu sync.RWMutex

	// Token records, encrypted at rest if encryptor is set
	tokens map[string]*oauth2.Token

	encryptor *security.Encryptor

	// Instrumentation
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	// Lock-free count for the storage size gauge
	tokensCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var _ storage.TokenStore = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		tokens:          make(map[string]*oauth2.Token),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor sets the token encryptor for encryption at rest
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for storage")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		if err := inst.RegisterTokenCountCallback(func() int64 {
			return s.tokensCountAtomic.Load()
		}); err != nil {
			s.logger.Warn("Failed to register storage size callback", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// SaveTokens saves an oauth2.Token for a user with optional encryption
func (s *Store) SaveTokens(ctx context.Context, userID string, token *oauth2.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_tokens", err, startTime)
	}()

	if userID == "" {
		err = fmt.Errorf("userID cannot be empty")
		return err
	}
	if token == nil {
		err = fmt.Errorf("token cannot be nil")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[userID]

	storedToken := token
	if s.encryptor != nil && s.encryptor.IsEnabled() {
		storedToken, err = s.encryptToken(token)
		if err != nil {
			return err
		}
		s.logger.Debug("Saved encrypted token record", "user_id", userID)
	} else {
		s.logger.Debug("Saved token record", "user_id", userID)
	}

	s.tokens[userID] = storedToken

	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	return nil
}

// LoadTokens retrieves an oauth2.Token for a user and decrypts if necessary
func (s *Store) LoadTokens(ctx context.Context, userID string) (*oauth2.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "load_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "load_tokens", err, startTime)
	}()

	s.mu.RLock()
	encryptor := s.encryptor
	token, ok := s.tokens[userID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, userID)
		return nil, err
	}

	// Expired with nothing to refresh with is as good as absent. The clock
	// skew grace period avoids false expiry near the boundary.
	if security.IsTokenExpired(token.Expiry) && token.RefreshToken == "" {
		err = fmt.Errorf("%w: %s", storage.ErrTokenExpired, userID)
		return nil, err
	}

	if encryptor != nil && encryptor.IsEnabled() {
		var decrypted *oauth2.Token
		decrypted, err = s.decryptToken(token, encryptor)
		if err != nil {
			return nil, err
		}
		return decrypted, nil
	}

	return token, nil
}

// DeleteTokens removes the token record for a user. Idempotent.
func (s *Store) DeleteTokens(ctx context.Context, userID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_tokens")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_tokens", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[userID]
	delete(s.tokens, userID)

	if existed {
		s.tokensCountAtomic.Add(-1)
	}

	s.logger.Debug("Deleted token record", "user_id", userID)
	return nil
}

// Count returns the number of token records currently stored.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// encryptToken encrypts sensitive fields in an oauth2.Token.
// Returns a new token with encrypted fields, leaving the original unchanged.
// Preserves the Extra fields (id_token, scope), which live in a private
// field of oauth2.Token.
func (s *Store) encryptToken(token *oauth2.Token) (*oauth2.Token, error) {
	extra := storage.ExtractTokenExtra(token)

	encrypted := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		TokenType:    token.TokenType,
	}

	if encrypted.AccessToken != "" {
		enc, err := s.encryptor.Encrypt(encrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		encrypted.AccessToken = enc
	}

	if encrypted.RefreshToken != "" {
		enc, err := s.encryptor.Encrypt(encrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		encrypted.RefreshToken = enc
	}

	if extra != nil {
		encryptedExtra, err := storage.EncryptExtraFields(extra, s.encryptor)
		if err != nil {
			return nil, err
		}
		encrypted = encrypted.WithExtra(encryptedExtra)
	}

	return encrypted, nil
}

// decryptToken decrypts sensitive fields in an oauth2.Token.
// Returns a new token with decrypted fields, leaving the stored copy unchanged.
func (s *Store) decryptToken(token *oauth2.Token, encryptor *security.Encryptor) (*oauth2.Token, error) {
	extra := storage.ExtractTokenExtra(token)

	decrypted := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		TokenType:    token.TokenType,
	}

	if decrypted.AccessToken != "" {
		dec, err := encryptor.Decrypt(decrypted.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		decrypted.AccessToken = dec
	}

	if decrypted.RefreshToken != "" {
		dec, err := encryptor.Decrypt(decrypted.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		decrypted.RefreshToken = dec
	}

	if extra != nil {
		decryptedExtra, err := storage.DecryptExtraFields(extra, encryptor)
		if err != nil {
			return nil, err
		}
		decrypted = decrypted.WithExtra(decryptedExtra)
	}

	return decrypted, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup evicts expired token records that have no refresh token. Records
// with a refresh token are kept because the client can still refresh them.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for userID, token := range s.tokens {
		if security.IsTokenExpired(token.Expiry) && token.RefreshToken == "" {
			delete(s.tokens, userID)
			s.tokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired token records", "count", cleaned)
	}
}

// startStorageSpan starts a tracing span for a storage operation (nil-safe)
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
