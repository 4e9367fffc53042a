// Package oauth implements the client side of the OAuth 2.0 authorization
// code flow with pushed authorization requests (RFC 9126), PKCE (RFC 7636)
// and DPoP sender-constrained tokens (RFC 9449) against a single
// authorization server.
//
// A Client holds one user session. BeginAuthorization pushes the
// authorization request and returns the URL to send the user agent to;
// CompleteAuthorization exchanges the redirect code for a DPoP-bound token
// record; CallProtectedResource signs and sends resource requests,
// refreshing the access token once when it has expired. Tokens persist
// across restarts through a storage.TokenStore.
//
// All outbound requests pass a host allow-list with DNS resolution checks,
// and authorization starts are rate limited. Both gates reject before any
// traffic is sent.
package oauth
