package oauth

// State describes where a session is in the authorization lifecycle
type State string

// Session states
const (
	// StateUnauthenticated means no token exists and no flow is in progress
	StateUnauthenticated State = "unauthenticated"

	// StatePending means an authorization URL has been issued and the
	// session is waiting for the redirect code
	StatePending State = "pending"

	// StateAuthenticated means a token record exists
	StateAuthenticated State = "authenticated"

	// StateExpired means the access token is past its expiry; a refresh
	// token may or may not remain
	StateExpired State = "expired"
)

// AuthorizationAttempt is the result of a pushed authorization request.
// The caller sends the user agent to URL and later hands the redirect
// code back to CompleteAuthorization together with CodeVerifier.
type AuthorizationAttempt struct {
	// URL is the authorization endpoint URL the user agent must visit
	URL string

	// CodeVerifier is the PKCE verifier bound to this attempt
	CodeVerifier string

	// RequestURI is the one-time handle returned by the PAR endpoint
	RequestURI string

	// State is the random anti-forgery value embedded in the request
	State string

	// ExpiresIn is the request_uri lifetime in seconds, as reported by
	// the authorization server
	ExpiresIn int64
}

// parResponse represents a PAR endpoint success response (RFC 9126)
type parResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// tokenResponse represents a token endpoint success response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Sub          string `json:"sub,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// ClientMetadata represents a Client ID Metadata Document: a JSON object
// hosted at a stable HTTPS URL that doubles as the client_id. The core
// never fetches or validates it; this type exists so deployments can
// produce the artifact with the same module that consumes its URL.
type ClientMetadata struct {
	// ClientID is the HTTPS URL the document is hosted at
	ClientID string `json:"client_id"`

	// ClientName is a human-readable client name
	ClientName string `json:"client_name,omitempty"`

	// ApplicationType is "web" or "native"
	ApplicationType string `json:"application_type,omitempty"`

	// GrantTypes lists the grant types the client will use
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes lists the response types the client will use
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is the space-separated scope string the client may request
	Scope string `json:"scope,omitempty"`

	// RedirectURIs lists the registered redirect URIs
	RedirectURIs []string `json:"redirect_uris"`

	// TokenEndpointAuthMethod is the client authentication method
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// DPoPBoundAccessTokens indicates all issued tokens must be DPoP-bound
	DPoPBoundAccessTokens bool `json:"dpop_bound_access_tokens"`

	// JWKSURI points to the client's public key set
	JWKSURI string `json:"jwks_uri,omitempty"`
}

// NewPublicClientMetadata builds the metadata document for a public client
// using the authorization code grant with PKCE and DPoP-bound tokens.
func NewPublicClientMetadata(clientID, clientName, jwksURI, scope string, redirectURIs []string) *ClientMetadata {
	return &ClientMetadata{
		ClientID:                clientID,
		ClientName:              clientName,
		ApplicationType:         "web",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		Scope:                   scope,
		RedirectURIs:            redirectURIs,
		TokenEndpointAuthMethod: "none",
		DPoPBoundAccessTokens:   true,
		JWKSURI:                 jwksURI,
	}
}
