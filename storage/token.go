package storage

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/dpop-oauth/security"
)

// KnownExtraFields lists the extra token-response fields that must be
// preserved through serialization. oauth2.Token keeps them in a private raw
// field, so implementations extract them explicitly before marshaling.
//
// The allowlist approach drops unknown extra fields, so a hostile server
// response cannot smuggle arbitrary payloads into the store.
var KnownExtraFields = []string{
	"id_token",   // OIDC ID token when the openid scope was granted - ENCRYPTED
	"scope",      // Granted scopes (may differ from requested)
	"expires_in", // Token lifetime in seconds (redundant with Expiry but some servers include it)
	"sub",        // Subject identifier some servers return alongside tokens
}

// SensitiveExtraFields lists extra fields that contain sensitive data and are
// encrypted at rest. The id_token is a signed JWT carrying identity claims
// (email, name, subject), so it is PII even though it cannot be replayed as
// a credential.
var SensitiveExtraFields = []string{
	"id_token",
}

// ExtractTokenExtra extracts known extra fields from an oauth2.Token.
// Token.Extra() is the only access path to the private raw field.
//
// Returns nil if the token is nil or has no known extra fields.
func ExtractTokenExtra(token *oauth2.Token) map[string]interface{} {
	if token == nil {
		return nil
	}

	extra := make(map[string]interface{}, len(KnownExtraFields))
	for _, field := range KnownExtraFields {
		if v := token.Extra(field); v != nil {
			extra[field] = v
		}
	}

	if len(extra) == 0 {
		return nil
	}
	return extra
}

// EncryptExtraFields encrypts sensitive fields in the extra map.
// Returns a new map with encrypted values for sensitive fields; non-sensitive
// fields are copied as-is. If encryptor is nil or disabled, returns the
// original map unchanged.
func EncryptExtraFields(extra map[string]interface{}, encryptor *security.Encryptor) (map[string]interface{}, error) {
	return transformExtraFields(extra, encryptor, encryptor.Encrypt, "encrypt")
}

// DecryptExtraFields decrypts sensitive fields in the extra map.
// The inverse of EncryptExtraFields.
func DecryptExtraFields(extra map[string]interface{}, encryptor *security.Encryptor) (map[string]interface{}, error) {
	return transformExtraFields(extra, encryptor, encryptor.Decrypt, "decrypt")
}

func transformExtraFields(extra map[string]interface{}, encryptor *security.Encryptor, transform func(string) (string, error), op string) (map[string]interface{}, error) {
	if extra == nil {
		return nil, nil
	}
	if encryptor == nil || !encryptor.IsEnabled() {
		return extra, nil
	}

	sensitiveSet := make(map[string]bool, len(SensitiveExtraFields))
	for _, field := range SensitiveExtraFields {
		sensitiveSet[field] = true
	}

	result := make(map[string]interface{}, len(extra))
	for key, value := range extra {
		strVal, isStr := value.(string)
		if !sensitiveSet[key] || !isStr || strVal == "" {
			result[key] = value
			continue
		}
		transformed, err := transform(strVal)
		if err != nil {
			return nil, fmt.Errorf("failed to %s extra field %s: %w", op, key, err)
		}
		result[key] = transformed
	}

	return result, nil
}
