// Package mock provides a mock implementation of the TokenStore interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/storage"
)

// MockTokenStore is a mock implementation of storage.TokenStore for testing.
// Override the Func fields to inject behavior; CallCounts tracks invocations.
type MockTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token

	SaveTokensFunc   func(userID string, token *oauth2.Token) error
	LoadTokensFunc   func(userID string) (*oauth2.Token, error)
	DeleteTokensFunc func(userID string) error

	CallCounts map[string]int
}

var _ storage.TokenStore = (*MockTokenStore)(nil)

// NewMockTokenStore creates a new mock token store with map-backed defaults
func NewMockTokenStore() *MockTokenStore {
	m := &MockTokenStore{
		tokens:     make(map[string]*oauth2.Token),
		CallCounts: make(map[string]int),
	}

	m.SaveTokensFunc = func(userID string, token *oauth2.Token) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.tokens[userID] = token
		return nil
	}

	m.LoadTokensFunc = func(userID string) (*oauth2.Token, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		token, ok := m.tokens[userID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, userID)
		}
		return token, nil
	}

	m.DeleteTokensFunc = func(userID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tokens, userID)
		return nil
	}

	return m
}

// SaveTokens implements storage.TokenStore
func (m *MockTokenStore) SaveTokens(_ context.Context, userID string, token *oauth2.Token) error {
	m.recordCall("SaveTokens")
	return m.SaveTokensFunc(userID, token)
}

// LoadTokens implements storage.TokenStore
func (m *MockTokenStore) LoadTokens(_ context.Context, userID string) (*oauth2.Token, error) {
	m.recordCall("LoadTokens")
	return m.LoadTokensFunc(userID)
}

// DeleteTokens implements storage.TokenStore
func (m *MockTokenStore) DeleteTokens(_ context.Context, userID string) error {
	m.recordCall("DeleteTokens")
	return m.DeleteTokensFunc(userID)
}

// CallCount returns the number of times the named method was invoked
func (m *MockTokenStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockTokenStore) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}
