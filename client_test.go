package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/security"
	"github.com/giantswarm/dpop-oauth/storage"
	"github.com/giantswarm/dpop-oauth/storage/mock"
)

func TestNewValidatesConfig(t *testing.T) {
	auth := newFakeAuthServer(t)
	// newTestClient fails the test on any construction error.
	_ = newTestClient(t, auth, nil)

	_, err := New(Config{})
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("New(Config{}) error = %v, want kind %v", err, KindConfiguration)
	}
}

func TestStateTransitions(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, auth, nil)
	ctx := context.Background()

	if got := client.State(); got != StateUnauthenticated {
		t.Errorf("initial State() = %q, want %q", got, StateUnauthenticated)
	}

	attempt, err := client.BeginAuthorization(ctx, "caller-1")
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}
	if got := client.State(); got != StatePending {
		t.Errorf("State() = %q, want %q", got, StatePending)
	}

	if err := client.CompleteAuthorization(ctx, "good-code", attempt.CodeVerifier); err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if got := client.State(); got != StateAuthenticated {
		t.Errorf("State() = %q, want %q", got, StateAuthenticated)
	}

	// Expiry is derived, not an explicit transition.
	client.mu.Lock()
	client.token.Expiry = time.Now().Add(-time.Minute)
	client.mu.Unlock()
	if got := client.State(); got != StateExpired {
		t.Errorf("State() = %q with expired token, want %q", got, StateExpired)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := client.State(); got != StateUnauthenticated {
		t.Errorf("State() = %q after logout, want %q", got, StateUnauthenticated)
	}
}

func TestLogout(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, auth, nil)
	ctx := context.Background()

	injectToken(t, client, &oauth2.Token{
		AccessToken:  "AT1",
		TokenType:    "DPoP",
		RefreshToken: "RT1",
		Expiry:       time.Now().Add(time.Hour),
	})

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if client.Token() != nil {
		t.Error("Token() != nil after logout")
	}
	if _, err := client.config.TokenStore.LoadTokens(ctx, testUserID); err == nil {
		t.Error("LoadTokens() succeeded after logout, want not found")
	}

	// Logging out again is a no-op.
	if err := client.Logout(ctx); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}

func TestHydrateFromStore(t *testing.T) {
	auth := newFakeAuthServer(t)
	ctx := context.Background()

	t.Run("record exists", func(t *testing.T) {
		client := newTestClient(t, auth, nil)
		token := &oauth2.Token{
			AccessToken:  "AT1",
			TokenType:    "DPoP",
			RefreshToken: "RT1",
			Expiry:       time.Now().Add(time.Hour),
		}
		if err := client.config.TokenStore.SaveTokens(ctx, testUserID, token); err != nil {
			t.Fatalf("SaveTokens() error = %v", err)
		}

		if err := client.HydrateFromStore(ctx); err != nil {
			t.Fatalf("HydrateFromStore() error = %v", err)
		}
		if got := client.State(); got != StateAuthenticated {
			t.Errorf("State() = %q, want %q", got, StateAuthenticated)
		}
		if got := client.Token(); got == nil || got.AccessToken != "AT1" {
			t.Errorf("Token() = %+v, want AT1", got)
		}
	})

	t.Run("no record", func(t *testing.T) {
		client := newTestClient(t, auth, nil)
		if err := client.HydrateFromStore(ctx); err != nil {
			t.Fatalf("HydrateFromStore() error = %v", err)
		}
		if got := client.State(); got != StateUnauthenticated {
			t.Errorf("State() = %q, want %q", got, StateUnauthenticated)
		}
	})

	t.Run("expired record with refresh token", func(t *testing.T) {
		client := newTestClient(t, auth, nil)
		token := &oauth2.Token{
			AccessToken:  "AT1",
			TokenType:    "DPoP",
			RefreshToken: "RT1",
			Expiry:       time.Now().Add(-time.Minute),
		}
		if err := client.config.TokenStore.SaveTokens(ctx, testUserID, token); err != nil {
			t.Fatalf("SaveTokens() error = %v", err)
		}

		if err := client.HydrateFromStore(ctx); err != nil {
			t.Fatalf("HydrateFromStore() error = %v", err)
		}
		// Expired but refreshable: the next resource call can recover.
		if got := client.State(); got != StateExpired {
			t.Errorf("State() = %q, want %q", got, StateExpired)
		}
	})
}

func TestTokenReturnsCopy(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, auth, nil)

	injectToken(t, client, &oauth2.Token{
		AccessToken: "AT1",
		TokenType:   "DPoP",
		Expiry:      time.Now().Add(time.Hour),
	})

	copied := client.Token()
	copied.AccessToken = "mutated"
	if got := client.Token().AccessToken; got != "AT1" {
		t.Errorf("session AccessToken = %q after mutating the copy, want AT1", got)
	}
}

// recordingEncryptedStore records the encryptor New installs on the store.
type recordingEncryptedStore struct {
	storage.TokenStore
	enc *security.Encryptor
}

func (s *recordingEncryptedStore) SetEncryptor(enc *security.Encryptor) { s.enc = enc }

func TestNewWiresEncryptionKey(t *testing.T) {
	t.Run("installs encryptor on the store", func(t *testing.T) {
		store := &recordingEncryptedStore{TokenStore: mock.NewMockTokenStore()}
		config := validConfig(t)
		config.TokenStore = store
		config.Security.EncryptionKey = make([]byte, 32)

		client, err := New(config)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer client.Close()
		if store.enc == nil {
			t.Error("no encryptor installed on the token store")
		}
	})

	t.Run("rejects bad key length", func(t *testing.T) {
		config := validConfig(t)
		config.Security.EncryptionKey = make([]byte, 16)
		if _, err := New(config); !IsKind(err, KindConfiguration) {
			t.Fatalf("New() error = %v, want kind %v", err, KindConfiguration)
		}
	})

	t.Run("rejects stores without encryption support", func(t *testing.T) {
		config := validConfig(t)
		config.TokenStore = mock.NewMockTokenStore()
		config.Security.EncryptionKey = make([]byte, 32)
		if _, err := New(config); !IsKind(err, KindConfiguration) {
			t.Fatalf("New() error = %v, want kind %v", err, KindConfiguration)
		}
	})
}

func TestSaveFailurePropagatesUnwrapped(t *testing.T) {
	auth := newFakeAuthServer(t)
	ctx := context.Background()

	backendDown := errors.New("valkey: connection refused")
	mockStore := mock.NewMockTokenStore()
	mockStore.SaveTokensFunc = func(userID string, token *oauth2.Token) error {
		return backendDown
	}

	client := newTestClient(t, auth, func(c *Config) {
		c.TokenStore = mockStore
	})

	attempt, err := client.BeginAuthorization(ctx, "caller-1")
	if err != nil {
		t.Fatalf("BeginAuthorization() error = %v", err)
	}

	err = client.CompleteAuthorization(ctx, "good-code", attempt.CodeVerifier)
	// Storage failures surface as-is, not wrapped in a flow error.
	if !errors.Is(err, backendDown) {
		t.Fatalf("error = %v, want the storage error", err)
	}
	var fe *FlowError
	if asFlowError(err, &fe) {
		t.Errorf("storage error was wrapped in a *FlowError: %v", err)
	}

	// The exchange succeeded upstream but nothing durable exists, so the
	// session must not claim authentication.
	if got := client.State(); got != StatePending {
		t.Errorf("State() = %q, want %q", got, StatePending)
	}
	if got := mockStore.CallCount("SaveTokens"); got != 1 {
		t.Errorf("SaveTokens call count = %d, want 1", got)
	}
}

func TestStorageErrorsPassThrough(t *testing.T) {
	auth := newFakeAuthServer(t)
	client := newTestClient(t, auth, nil)
	ctx := context.Background()

	err := client.config.TokenStore.DeleteTokens(ctx, testUserID)
	if err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}

	_, err = client.config.TokenStore.LoadTokens(ctx, testUserID)
	if err == nil {
		t.Fatal("LoadTokens() on empty store succeeded")
	}
	// Storage sentinels stay recognizable through the client surface.
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("error %v does not match storage.ErrTokenNotFound", err)
	}
}
