// Package dpop implements DPoP (Demonstrating Proof of Possession) proof
// generation per RFC 9449 for the client side of the authorization code flow.
//
// A DPoP proof is a short-lived JWT that binds one outbound HTTP request to
// the client's key pair. The authorization server verifies the signature with
// the public key embedded in the proof header and binds the issued access
// token to that key's thumbprint, so a stolen bearer token is useless without
// the private key.
//
// # Proof structure
//
// Header: {alg: "ES256", typ: "dpop+jwt", jwk: <EC P-256 public key>}
// Payload: {jti, htm, htu, iat} plus an optional server-issued nonce and,
// for protected-resource calls, the ath access-token hash.
//
// # Usage
//
//	key, _ := dpop.GenerateKey()
//	signer := dpop.NewSigner(key)
//	proof, err := signer.Proof("POST", "https://auth.example.com/oauth/token")
//
// Proofs are single-use: every call produces a fresh jti and iat, including
// retries of the same request.
package dpop
