// Package pkce implements Proof Key for Code Exchange (RFC 7636) for the
// authorization code flow. Only the S256 challenge method is supported;
// the "plain" method is prohibited by OAuth 2.1.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// VerifierLength is the length of generated code verifiers. 64 characters
	// drawn from the 66-character unreserved set carry well over the 256 bits
	// of entropy RFC 7636 recommends, and sit comfortably inside the
	// 43..128 range RFC 7636 mandates.
	VerifierLength = 64

	// MinVerifierLength and MaxVerifierLength bound valid verifiers per RFC 7636.
	MinVerifierLength = 43
	MaxVerifierLength = 128

	// MethodS256 is the only code challenge method this library emits.
	MethodS256 = "S256"

	// verifierCharset is the RFC 3986 unreserved character set permitted in
	// code verifiers (RFC 7636 Section 4.1).
	verifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// Challenge holds a generated verifier/challenge pair for one authorization
// attempt. The verifier must be kept by the caller until the code exchange;
// the challenge travels in the pushed authorization request.
type Challenge struct {
	// CodeVerifier is the secret half of the pair. Never sent to the browser.
	CodeVerifier string

	// CodeChallenge is the S256 transform of the verifier.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// New generates a fresh verifier/challenge pair.
func New() (*Challenge, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	return &Challenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeS256(verifier),
		CodeChallengeMethod: MethodS256,
	}, nil
}

// GenerateVerifier returns a cryptographically random code verifier of
// VerifierLength characters from the unreserved character set.
//
// The only failure mode is exhaustion of the system entropy source, which is
// fatal and not retriable.
func GenerateVerifier() (string, error) {
	buf := make([]byte, VerifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy for code verifier: %w", err)
	}

	// Map each random byte onto the 66-character set. The modulo bias is
	// below 2^-5 per character and irrelevant at 64 characters of output.
	for i, b := range buf {
		buf[i] = verifierCharset[int(b)%len(verifierCharset)]
	}
	return string(buf), nil
}

// ChallengeS256 derives the code challenge from a verifier: SHA-256 followed
// by unpadded base64url encoding (RFC 7636 Section 4.2). The transform is
// deterministic so the authorization server can independently verify the
// binding at token-exchange time.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidVerifier reports whether a verifier satisfies the RFC 7636 length and
// character-set constraints.
func ValidVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for _, c := range verifier {
		if !isUnreserved(byte(c)) {
			return false
		}
	}
	return true
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
