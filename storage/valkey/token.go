package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/storage"
)

// serializableToken is a JSON-serializable representation of oauth2.Token.
// oauth2.Token keeps extra fields (like id_token) in a private 'raw' field
// that standard JSON marshaling does not include, so this struct captures
// them explicitly.
type serializableToken struct {
	AccessToken  string                 `json:"access_token"`
	TokenType    string                 `json:"token_type,omitempty"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	Expiry       time.Time              `json:"expiry,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// toSerializable converts an oauth2.Token into its serializable form,
// extracting the known extra fields from the private raw field.
func toSerializable(token *oauth2.Token) serializableToken {
	return serializableToken{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Extra:        storage.ExtractTokenExtra(token),
	}
}

// toOAuth2Token reconstructs an oauth2.Token, restoring the extra fields.
func (st serializableToken) toOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}
	if st.Extra != nil {
		token = token.WithExtra(st.Extra)
	}
	return token
}

// SaveTokens saves an oauth2.Token for a user with optional encryption at rest
func (s *Store) SaveTokens(ctx context.Context, userID string, token *oauth2.Token) error {
	if userID == "" {
		return fmt.Errorf("userID cannot be empty")
	}
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	if err := validateStringLength(userID, MaxIDLength, "userID"); err != nil {
		return err
	}

	tokenToStore, err := s.encryptToken(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	data, err := json.Marshal(toSerializable(tokenToStore))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if len(data) > MaxTokenDataSize {
		return errInputTooLarge
	}

	key := s.tokenKey(userID)

	// Records with a refresh token outlive the access token expiry, since
	// the client can still refresh. Records without one expire with the
	// access token.
	var execErr error
	switch {
	case token.RefreshToken != "":
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(s.refreshTokenRetention).Build()).Error()
	case !token.Expiry.IsZero():
		ttl := calculateTTL(token.Expiry)
		if ttl <= 0 {
			return fmt.Errorf("token already expired")
		}
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	default:
		execErr = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error()
	}

	if execErr != nil {
		return fmt.Errorf("failed to save token: %w", execErr)
	}

	enc := s.getEncryptor()
	if enc != nil && enc.IsEnabled() {
		s.logger.Debug("Saved encrypted token record", "user_id", userID)
	} else {
		s.logger.Debug("Saved token record", "user_id", userID)
	}
	return nil
}

// LoadTokens retrieves an oauth2.Token for a user and decrypts if necessary
func (s *Store) LoadTokens(ctx context.Context, userID string) (*oauth2.Token, error) {
	key := s.tokenKey(userID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var st serializableToken
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	token := st.toOAuth2Token()

	// Expired with no refresh token is unrecoverable
	if !token.Expiry.IsZero() && time.Now().After(token.Expiry) && token.RefreshToken == "" {
		return nil, storage.ErrTokenExpired
	}

	decrypted, err := s.decryptToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return decrypted, nil
}

// DeleteTokens removes the token record for a user. Idempotent.
func (s *Store) DeleteTokens(ctx context.Context, userID string) error {
	key := s.tokenKey(userID)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	s.logger.Debug("Deleted token record", "user_id", userID)
	return nil
}
