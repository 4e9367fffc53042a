package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/dpop-oauth/instrumentation"
	"github.com/giantswarm/dpop-oauth/internal/util"
	"github.com/giantswarm/dpop-oauth/pkce"
)

// maxResponseBody caps how much of an authorization server response is read.
const maxResponseBody = 1 << 20

// useDPoPNonce is the error code a server answers with when it requires a
// proof carrying its current nonce (RFC 9449 section 8).
const useDPoPNonce = "use_dpop_nonce"

// BeginAuthorization pushes an authorization request (RFC 9126) and returns
// the URL the user agent must visit. callerKey identifies the caller for
// rate limiting; use a stable per-user or per-IP key.
//
// The returned attempt carries the PKCE verifier the caller must hand back
// to CompleteAuthorization. On success the session becomes pending.
func (c *Client) BeginAuthorization(ctx context.Context, callerKey string) (*AuthorizationAttempt, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.begin_authorization")
	defer span.End()
	instrumentation.AddFlowAttributes(span, c.config.ClientID, c.config.UserID, strings.Join(c.config.Scopes, " "))

	attempt, err := c.beginAuthorization(ctx, callerKey)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrRequestURI, attempt.RequestURI))
	instrumentation.SetSpanSuccess(span)
	return attempt, nil
}

func (c *Client) beginAuthorization(ctx context.Context, callerKey string) (*AuthorizationAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.limiter.Allow(ctx, callerKey) {
		c.auditor.LogRateLimitExceeded(callerKey, c.config.ClientID)
		if c.metrics != nil {
			c.metrics.RecordRateLimitExceeded(ctx, "authorization")
		}
		return nil, ErrSecurityRejected("authorization rate limit exceeded")
	}

	challenge, err := pkce.New()
	if err != nil {
		return nil, ErrProofGeneration("failed to generate PKCE challenge", err)
	}
	stateValue := uuid.NewString()

	form := url.Values{
		"client_id":             {c.config.ClientID},
		"redirect_uri":          {c.config.RedirectURI},
		"response_type":         {"code"},
		"scope":                 {strings.Join(c.config.Scopes, " ")},
		"state":                 {stateValue},
		"code_challenge":        {challenge.CodeChallenge},
		"code_challenge_method": {challenge.CodeChallengeMethod},
	}

	status, body, err := c.postWithProofLocked(ctx, c.config.Endpoints.PushedAuthorization, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, ErrAuthorization("pushed authorization request rejected").
			WithUpstream(upstreamError(body), status)
	}

	var par parResponse
	if err := json.Unmarshal(body, &par); err != nil {
		return nil, ErrAuthorization("malformed pushed authorization response").WithCause(err)
	}
	if par.RequestURI == "" {
		return nil, ErrAuthorization("pushed authorization response missing request_uri")
	}

	authURL, err := url.Parse(c.config.Endpoints.Authorization)
	if err != nil {
		return nil, ErrConfiguration("invalid authorization endpoint").WithCause(err)
	}
	query := authURL.Query()
	query.Set("client_id", c.config.ClientID)
	query.Set("request_uri", par.RequestURI)
	authURL.RawQuery = query.Encode()

	c.state = StatePending
	c.auditor.LogAuthorizationStarted(c.config.UserID, c.config.ClientID, strings.Join(c.config.Scopes, " "))
	if c.metrics != nil {
		c.metrics.RecordAuthorizationStarted(ctx, c.config.ClientID)
	}
	c.logger.Info("authorization started",
		"request_uri_expires_in", par.ExpiresIn)

	return &AuthorizationAttempt{
		URL:          authURL.String(),
		CodeVerifier: challenge.CodeVerifier,
		RequestURI:   par.RequestURI,
		State:        stateValue,
		ExpiresIn:    par.ExpiresIn,
	}, nil
}

// CompleteAuthorization exchanges the redirect code for tokens. codeVerifier
// must be the verifier from the matching AuthorizationAttempt. On success the
// token record is persisted and the session becomes authenticated; on failure
// the session stays pending so the flow can be restarted.
func (c *Client) CompleteAuthorization(ctx context.Context, code, codeVerifier string) error {
	ctx, span := c.tracer.Start(ctx, "oauth.complete_authorization")
	defer span.End()
	instrumentation.AddFlowAttributes(span, c.config.ClientID, c.config.UserID, "")

	if err := c.completeAuthorization(ctx, code, codeVerifier); err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

func (c *Client) completeAuthorization(ctx context.Context, code, codeVerifier string) error {
	if code == "" {
		return ErrTokenExchange("authorization code is required")
	}
	if codeVerifier == "" {
		return ErrTokenExchange("code verifier is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {c.config.RedirectURI},
	}

	status, body, err := c.postWithProofLocked(ctx, c.config.Endpoints.Token, form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		if c.metrics != nil {
			c.metrics.RecordAuthorizationCompleted(ctx, c.config.ClientID, false)
		}
		return ErrTokenExchange("authorization code exchange rejected").
			WithUpstream(upstreamError(body), status)
	}

	token, err := parseTokenResponse(body)
	if err != nil {
		return ErrTokenExchange("malformed token response").WithCause(err)
	}

	if err := c.config.TokenStore.SaveTokens(ctx, c.config.UserID, token); err != nil {
		return err
	}

	c.token = token
	c.state = StateAuthenticated
	c.auditor.LogAuthorizationCompleted(c.config.UserID, c.config.ClientID, token.RefreshToken != "")
	if c.metrics != nil {
		c.metrics.RecordAuthorizationCompleted(ctx, c.config.ClientID, true)
	}
	c.logger.Info("authorization completed",
		"has_refresh_token", token.RefreshToken != "",
		"expires_at", token.Expiry)
	c.logger.Debug("token record stored",
		"access_token", util.RedactToken(token.AccessToken))
	return nil
}

// refreshLocked replaces the token record via the refresh grant. Caller must
// hold c.mu. A successful refresh overwrites the whole record; a response
// without a new refresh token therefore drops refresh capability. Any failure
// leaves the existing record untouched.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token == nil || c.token.RefreshToken == "" {
		return ErrTokenMissing("no refresh token available")
	}
	previousRefreshToken := c.token.RefreshToken

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {previousRefreshToken},
		"client_id":     {c.config.ClientID},
	}

	status, body, err := c.postWithProofLocked(ctx, c.config.Endpoints.Token, form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return ErrTokenRefresh("token refresh rejected").
			WithUpstream(upstreamError(body), status)
	}

	token, err := parseTokenResponse(body)
	if err != nil {
		return ErrTokenRefresh("malformed token response").WithCause(err)
	}

	if token.RefreshToken == "" {
		c.logger.Warn("refresh response carried no refresh token; the session cannot be refreshed again")
		c.auditor.LogRefreshCapabilityLost(c.config.UserID, c.config.ClientID)
	}

	if err := c.config.TokenStore.SaveTokens(ctx, c.config.UserID, token); err != nil {
		return err
	}

	rotated := token.RefreshToken != "" && token.RefreshToken != previousRefreshToken
	c.token = token
	c.state = StateAuthenticated
	c.auditor.LogTokenRefreshed(c.config.UserID, c.config.ClientID, rotated)
	if c.metrics != nil {
		c.metrics.RecordTokenRefresh(ctx, c.config.ClientID, rotated)
	}
	c.logger.Info("token refreshed", "rotated", rotated, "expires_at", token.Expiry)
	return nil
}

// postWithProofLocked sends a DPoP-signed form POST to an authorization
// server endpoint and returns the status and body. It validates the endpoint
// URL, paces the request, remembers the server's DPoP-Nonce, and retries
// exactly once when the server answers use_dpop_nonce with a fresh nonce.
// Caller must hold c.mu.
func (c *Client) postWithProofLocked(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	if !c.validator.IsValid(ctx, endpoint) {
		c.auditor.LogURLRejected(c.config.ClientID, endpoint)
		if c.metrics != nil {
			c.metrics.RecordURLRejected(ctx)
		}
		return 0, nil, ErrSecurityRejected("endpoint URL failed validation: " + endpoint)
	}

	encoded := form.Encode()
	retried := false
	for {
		if err := c.pacer.Wait(ctx); err != nil {
			return 0, nil, ErrAuthorization("request pacing interrupted").WithCause(err)
		}

		proof, err := c.signer.ProofWithNonce(http.MethodPost, endpoint, c.nonceLocked(nonceClassAuthServer))
		if err != nil {
			return 0, nil, ErrProofGeneration("failed to sign DPoP proof", err)
		}
		if c.metrics != nil {
			c.metrics.RecordProofSigned(ctx, http.MethodPost)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return 0, nil, ErrAuthorization("failed to build request").WithCause(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("DPoP", proof)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, ErrAuthorization("authorization server unreachable").WithCause(err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		resp.Body.Close()
		if err != nil {
			return 0, nil, ErrAuthorization("failed to read response").WithCause(err)
		}

		serverNonce := resp.Header.Get("DPoP-Nonce")
		c.setNonceLocked(nonceClassAuthServer, serverNonce)

		if !retried && serverNonce != "" && isNonceDemand(resp.StatusCode, body) {
			retried = true
			if c.metrics != nil {
				c.metrics.RecordNonceRetry(ctx, endpoint)
			}
			c.logger.Debug("retrying with server-provided DPoP nonce")
			continue
		}

		return resp.StatusCode, body, nil
	}
}

// isNonceDemand reports whether a response is a use_dpop_nonce challenge.
func isNonceDemand(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	return errResp.Error == useDPoPNonce
}

// parseTokenResponse turns a token endpoint success body into a token record.
func parseTokenResponse(body []byte) (*oauth2.Token, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "DPoP"
	}

	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    tokenType,
		RefreshToken: resp.RefreshToken,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	extra := make(map[string]interface{})
	if resp.Scope != "" {
		extra["scope"] = resp.Scope
	}
	if resp.Sub != "" {
		extra["sub"] = resp.Sub
	}
	if resp.IDToken != "" {
		extra["id_token"] = resp.IDToken
	}
	if len(extra) > 0 {
		token = token.WithExtra(extra)
	}
	return token, nil
}

// upstreamError extracts the OAuth error code from a response body for error
// reporting, falling back to a body snippet.
func upstreamError(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		if errResp.ErrorDescription != "" {
			return errResp.Error + ": " + errResp.ErrorDescription
		}
		return errResp.Error
	}
	return util.SafeTruncate(string(bytes.TrimSpace(body)), 200)
}
