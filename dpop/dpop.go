package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Type and algorithm constants. The algorithm is fixed to ES256 over P-256;
// DPoP-bound authorization servers advertise it universally and a single
// algorithm keeps the proof header non-negotiable.
const (
	// TypeDPoP is the required typ header value for DPoP proofs.
	TypeDPoP = "dpop+jwt"

	// AlgES256 is the only algorithm this signer emits.
	AlgES256 = "ES256"
)

// Claims contains the payload claims of a DPoP proof JWT. They bind the
// proof to exactly one HTTP request.
type Claims struct {
	// JTI is a unique identifier for replay detection (required).
	JTI string `json:"jti"`

	// HTM is the HTTP method of the request (required).
	HTM string `json:"htm"`

	// HTU is the normalized request URI: scheme + host + path, no query or
	// fragment (required).
	HTU string `json:"htu"`

	// IAT is the issued-at timestamp in Unix seconds (required).
	IAT int64 `json:"iat"`

	// Nonce echoes the most recent DPoP-Nonce value issued by the server,
	// when one has been seen (RFC 9449 Section 8).
	Nonce string `json:"nonce,omitempty"`

	// ATH is the base64url SHA-256 hash of the access token the proof
	// accompanies. Set only on protected-resource calls (RFC 9449 Section 4.3).
	ATH string `json:"ath,omitempty"`
}

// ProofError is returned when proof construction or signing fails. The
// failure is deterministic for a given key, so callers must not retry with
// the same key material.
type ProofError struct {
	Reason string
	Err    error
}

func (e *ProofError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dpop proof generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("dpop proof generation failed: %s", e.Reason)
}

func (e *ProofError) Unwrap() error { return e.Err }

// GenerateKey generates a new ECDSA P-256 key pair for DPoP signing.
// The key is used only for proof signatures, never for token signing.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}
	return key, nil
}

// Signer produces DPoP proofs bound to a single key pair. A Signer is safe
// for concurrent use; each proof draws its own jti and iat.
type Signer struct {
	key *ecdsa.PrivateKey
	jwk jose.JSONWebKey
}

// NewSigner creates a Signer around an ECDSA P-256 private key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, &ProofError{Reason: "private key is nil"}
	}
	if key.Curve != elliptic.P256() {
		return nil, &ProofError{Reason: fmt.Sprintf("unsupported curve %s, ES256 requires P-256", key.Curve.Params().Name)}
	}
	return &Signer{
		key: key,
		jwk: jose.JSONWebKey{Key: key.Public(), Algorithm: AlgES256, Use: "sig"},
	}, nil
}

// Proof creates a DPoP proof for one request identified by its HTTP method
// and target URL. The URL is normalized per RFC 9449 before signing.
func (s *Signer) Proof(method, rawURL string) (string, error) {
	return s.proof(method, rawURL, "", "")
}

// ProofWithNonce creates a proof carrying the server-issued nonce. Pass the
// most recent DPoP-Nonce header value; an empty nonce omits the claim.
func (s *Signer) ProofWithNonce(method, rawURL, nonce string) (string, error) {
	return s.proof(method, rawURL, nonce, "")
}

// ProofForResource creates a proof for a protected-resource call, binding
// the access token via the ath claim in addition to the optional nonce.
func (s *Signer) ProofForResource(method, rawURL, nonce, accessToken string) (string, error) {
	ath := ""
	if accessToken != "" {
		ath = HashAccessToken(accessToken)
	}
	return s.proof(method, rawURL, nonce, ath)
}

func (s *Signer) proof(method, rawURL, nonce, ath string) (string, error) {
	htu, err := NormalizeHTU(rawURL)
	if err != nil {
		return "", &ProofError{Reason: "invalid target URL", Err: err}
	}
	if method == "" {
		return "", &ProofError{Reason: "HTTP method is empty"}
	}

	opts := (&jose.SignerOptions{}).WithType(TypeDPoP).WithHeader("jwk", s.jwk)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: s.key}, opts)
	if err != nil {
		return "", &ProofError{Reason: "failed to create signer", Err: err}
	}

	claims := Claims{
		JTI:   uuid.New().String(),
		HTM:   method,
		HTU:   htu,
		IAT:   time.Now().Unix(),
		Nonce: nonce,
		ATH:   ath,
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", &ProofError{Reason: "failed to serialize proof", Err: err}
	}
	return proof, nil
}

// PublicJWK returns the public half of the signing key as a JSON Web Key,
// suitable for publishing in a client JWKS document.
func (s *Signer) PublicJWK() jose.JSONWebKey {
	return s.jwk
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the public key,
// base64url-encoded without padding. Authorization servers bind DPoP access
// tokens to this value via the cnf.jkt claim.
func (s *Signer) Thumbprint() (string, error) {
	tp, err := s.jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", &ProofError{Reason: "failed to compute thumbprint", Err: err}
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// HashAccessToken computes the ath claim value for an access token:
// base64url(SHA-256(token)), unpadded.
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NormalizeHTU normalizes a URI for the htu claim per RFC 9449 Section 4.2:
// lowercase scheme and host, strip query and fragment, drop default ports,
// keep the path as-is (empty path becomes "/").
func NormalizeHTU(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("URL is empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}
