package valkey

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestSerializableTokenRoundTrip verifies that oauth2.Token survives JSON
// serialization without losing Extra fields. oauth2.Token keeps them in a
// private 'raw' field that standard marshaling does not include.
func TestSerializableTokenRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		token *oauth2.Token
		extra map[string]interface{}
	}{
		{
			name: "DPoP token with scope",
			token: &oauth2.Token{
				AccessToken:  "access-token-123",
				TokenType:    "DPoP",
				RefreshToken: "refresh-token-456",
				Expiry:       time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
			},
			extra: map[string]interface{}{
				"scope": "atproto transition:generic",
				"sub":   "did:plc:abc123",
			},
		},
		{
			name: "token with id_token",
			token: &oauth2.Token{
				AccessToken: "access-token-789",
				TokenType:   "DPoP",
				Expiry:      time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
			},
			extra: map[string]interface{}{
				"id_token": "eyJhbGciOiJFUzI1NiJ9.claims.sig",
			},
		},
		{
			name: "token with expires_in",
			token: &oauth2.Token{
				AccessToken: "access-only",
				TokenType:   "DPoP",
			},
			extra: map[string]interface{}{
				"expires_in": float64(3600), // JSON numbers are float64
			},
		},
		{
			name: "token without extra fields",
			token: &oauth2.Token{
				AccessToken:  "simple-access-token",
				TokenType:    "DPoP",
				RefreshToken: "simple-refresh-token",
				Expiry:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "token with zero expiry",
			token: &oauth2.Token{
				AccessToken: "access-token",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.token
			if tt.extra != nil {
				original = original.WithExtra(tt.extra)
			}

			st := toSerializable(original)

			data, err := json.Marshal(st)
			require.NoError(t, err, "failed to marshal serializableToken")

			var st2 serializableToken
			err = json.Unmarshal(data, &st2)
			require.NoError(t, err, "failed to unmarshal serializableToken")

			reconstructed := st2.toOAuth2Token()

			assert.Equal(t, original.AccessToken, reconstructed.AccessToken, "AccessToken mismatch")
			assert.Equal(t, original.TokenType, reconstructed.TokenType, "TokenType mismatch")
			assert.Equal(t, original.RefreshToken, reconstructed.RefreshToken, "RefreshToken mismatch")

			if original.Expiry.IsZero() {
				assert.True(t, reconstructed.Expiry.IsZero(), "Expiry should be zero")
			} else {
				assert.True(t, original.Expiry.Equal(reconstructed.Expiry), "Expiry mismatch")
			}

			for key, expected := range tt.extra {
				assert.Equal(t, expected, reconstructed.Extra(key), "Extra field %q mismatch", key)
			}
		})
	}
}

// TestToSerializableNilExtra verifies that a token without extra fields
// serializes with a nil Extra map (omitted from JSON).
func TestToSerializableNilExtra(t *testing.T) {
	token := &oauth2.Token{
		AccessToken: "test",
		TokenType:   "DPoP",
	}

	st := toSerializable(token)

	assert.Equal(t, "test", st.AccessToken)
	assert.Equal(t, "DPoP", st.TokenType)
	assert.Nil(t, st.Extra, "Extra should be nil when token has no extra fields")

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.NotContains(t, parsed, "extra", "nil extra should be omitted")
	assert.NotContains(t, parsed, "refresh_token", "empty refresh_token should be omitted")
}

// TestSerializableTokenJSONFormat pins the JSON structure stored in Valkey.
func TestSerializableTokenJSONFormat(t *testing.T) {
	token := (&oauth2.Token{
		AccessToken:  "access123",
		TokenType:    "DPoP",
		RefreshToken: "refresh456",
		Expiry:       time.Date(2026, 12, 10, 15, 30, 0, 0, time.UTC),
	}).WithExtra(map[string]interface{}{
		"scope": "atproto",
	})

	data, err := json.Marshal(toSerializable(token))
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, "access123", parsed["access_token"])
	assert.Equal(t, "DPoP", parsed["token_type"])
	assert.Equal(t, "refresh456", parsed["refresh_token"])
	assert.NotNil(t, parsed["expiry"])

	extra, ok := parsed["extra"].(map[string]interface{})
	require.True(t, ok, "extra should be a map")
	assert.Equal(t, "atproto", extra["scope"])
}

func TestCalculateTTL(t *testing.T) {
	assert.Greater(t, calculateTTL(time.Now().Add(time.Hour)), time.Duration(0))
	assert.Equal(t, time.Duration(0), calculateTTL(time.Now().Add(-time.Hour)))
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "1000", formatMillis(time.Second))
	assert.Equal(t, "1", formatMillis(time.Microsecond), "sub-millisecond windows round up to 1ms")
}
