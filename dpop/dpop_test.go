package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// decodeProof splits a compact JWS and decodes its header and payload for
// inspection. Signature bytes are returned raw.
func decodeProof(t *testing.T, proof string) (header map[string]any, claims Claims, sig []byte) {
	t.Helper()

	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		t.Fatalf("proof has %d segments, want 3", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	sig, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	return header, claims, sig
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	return signer
}

func TestSigner_Proof_HeaderAndClaims(t *testing.T) {
	signer := newTestSigner(t)

	before := time.Now().Unix()
	proof, err := signer.Proof("POST", "https://auth.example.com/oauth/par?foo=bar#frag")
	if err != nil {
		t.Fatalf("Proof() error: %v", err)
	}
	after := time.Now().Unix()

	header, claims, _ := decodeProof(t, proof)

	if header["typ"] != TypeDPoP {
		t.Errorf("typ = %v, want %q", header["typ"], TypeDPoP)
	}
	if header["alg"] != AlgES256 {
		t.Errorf("alg = %v, want %q", header["alg"], AlgES256)
	}
	jwk, ok := header["jwk"].(map[string]any)
	if !ok {
		t.Fatal("header missing jwk")
	}
	if jwk["kty"] != "EC" || jwk["crv"] != "P-256" {
		t.Errorf("jwk kty/crv = %v/%v, want EC/P-256", jwk["kty"], jwk["crv"])
	}
	if _, present := jwk["d"]; present {
		t.Fatal("jwk must not contain the private key component")
	}

	if claims.HTM != "POST" {
		t.Errorf("htm = %q, want POST", claims.HTM)
	}
	// Query and fragment are stripped from htu.
	if claims.HTU != "https://auth.example.com/oauth/par" {
		t.Errorf("htu = %q, want query/fragment stripped", claims.HTU)
	}
	if claims.JTI == "" {
		t.Error("jti is empty")
	}
	if claims.IAT < before || claims.IAT > after {
		t.Errorf("iat = %d outside [%d,%d]", claims.IAT, before, after)
	}
	if claims.Nonce != "" || claims.ATH != "" {
		t.Error("plain proof must not carry nonce or ath claims")
	}
}

func TestSigner_Proof_NeverReplayIdentical(t *testing.T) {
	signer := newTestSigner(t)

	p1, err := signer.Proof("GET", "https://api.example.com/resource")
	if err != nil {
		t.Fatalf("Proof() error: %v", err)
	}
	p2, err := signer.Proof("GET", "https://api.example.com/resource")
	if err != nil {
		t.Fatalf("Proof() error: %v", err)
	}

	_, c1, s1 := decodeProof(t, p1)
	_, c2, s2 := decodeProof(t, p2)

	if c1.JTI == c2.JTI {
		t.Error("two proofs for the same method/URL share a jti")
	}
	if string(s1) == string(s2) {
		t.Error("two proofs share an identical signature")
	}
}

func TestSigner_Proof_SignatureVerifies(t *testing.T) {
	signer := newTestSigner(t)

	proof, err := signer.Proof("POST", "https://auth.example.com/oauth/token")
	if err != nil {
		t.Fatalf("Proof() error: %v", err)
	}

	parsed, err := jose.ParseSigned(proof, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		t.Fatalf("ParseSigned() error: %v", err)
	}
	if _, err := parsed.Verify(signer.PublicJWK()); err != nil {
		t.Errorf("proof signature does not verify with the embedded public key: %v", err)
	}
}

func TestSigner_ProofWithNonce(t *testing.T) {
	signer := newTestSigner(t)

	proof, err := signer.ProofWithNonce("POST", "https://auth.example.com/oauth/token", "server-nonce-1")
	if err != nil {
		t.Fatalf("ProofWithNonce() error: %v", err)
	}

	_, claims, _ := decodeProof(t, proof)
	if claims.Nonce != "server-nonce-1" {
		t.Errorf("nonce = %q, want server-nonce-1", claims.Nonce)
	}
}

func TestSigner_ProofForResource_ATH(t *testing.T) {
	signer := newTestSigner(t)

	proof, err := signer.ProofForResource("GET", "https://api.example.com/me", "", "AT1")
	if err != nil {
		t.Fatalf("ProofForResource() error: %v", err)
	}

	_, claims, _ := decodeProof(t, proof)
	sum := sha256.Sum256([]byte("AT1"))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if claims.ATH != want {
		t.Errorf("ath = %q, want %q", claims.ATH, want)
	}
}

func TestSigner_Proof_InvalidInput(t *testing.T) {
	signer := newTestSigner(t)

	if _, err := signer.Proof("POST", ""); err == nil {
		t.Error("empty URL should fail")
	}
	if _, err := signer.Proof("POST", "not-a-url"); err == nil {
		t.Error("URL without scheme/host should fail")
	}
	if _, err := signer.Proof("", "https://auth.example.com/token"); err == nil {
		t.Error("empty method should fail")
	}

	var perr *ProofError
	_, err := signer.Proof("POST", "")
	if !errors.As(err, &perr) {
		t.Errorf("error type = %T, want *ProofError", err)
	}
}

func TestNewSigner_RejectsWrongCurve(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey(P384) error: %v", err)
	}
	if _, err := NewSigner(key); err == nil {
		t.Error("NewSigner should reject non-P-256 keys")
	}
}

func TestNewSigner_NilKey(t *testing.T) {
	if _, err := NewSigner(nil); err == nil {
		t.Error("NewSigner(nil) should fail")
	}
}

func TestThumbprint_Stable(t *testing.T) {
	signer := newTestSigner(t)

	tp1, err := signer.Thumbprint()
	if err != nil {
		t.Fatalf("Thumbprint() error: %v", err)
	}
	tp2, err := signer.Thumbprint()
	if err != nil {
		t.Fatalf("Thumbprint() error: %v", err)
	}
	if tp1 != tp2 {
		t.Error("thumbprint is not stable for the same key")
	}
	if tp1 == "" || strings.ContainsAny(tp1, "+/=") {
		t.Errorf("thumbprint %q is not unpadded base64url", tp1)
	}

	other := newTestSigner(t)
	tp3, err := other.Thumbprint()
	if err != nil {
		t.Fatalf("Thumbprint() error: %v", err)
	}
	if tp1 == tp3 {
		t.Error("different keys produced the same thumbprint")
	}
}

func TestNormalizeHTU(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"strips query", "https://example.com/path?a=b", "https://example.com/path", false},
		{"strips fragment", "https://example.com/path#frag", "https://example.com/path", false},
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path", false},
		{"drops default https port", "https://example.com:443/x", "https://example.com/x", false},
		{"drops default http port", "http://example.com:80/x", "http://example.com/x", false},
		{"keeps custom port", "https://example.com:8443/x", "https://example.com:8443/x", false},
		{"empty path becomes slash", "https://example.com", "https://example.com/", false},
		{"empty input", "", "", true},
		{"no scheme", "example.com/path", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHTU(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeHTU(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeHTU(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeHTU(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashAccessToken(t *testing.T) {
	h1 := HashAccessToken("token-a")
	h2 := HashAccessToken("token-a")
	h3 := HashAccessToken("token-b")

	if h1 != h2 {
		t.Error("hash is not deterministic")
	}
	if h1 == h3 {
		t.Error("different tokens hash identically")
	}
}
