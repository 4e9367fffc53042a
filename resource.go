package oauth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/dpop-oauth/instrumentation"
	"github.com/giantswarm/dpop-oauth/security"
)

// CallProtectedResource performs a DPoP-bound request against a protected
// resource using the session token. An expired access token is refreshed
// exactly once before the call when a refresh token exists; an expired token
// without refresh capability fails with a token_missing error and no network
// traffic.
//
// The response is returned with its body open for any 2xx status. Non-2xx
// responses are drained and surfaced as a *FlowError carrying the upstream
// status. A 401 against an unexpired token is terminal; the caller decides
// whether to restart authorization.
func (c *Client) CallProtectedResource(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.call_protected_resource")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrHTTPMethod, method))

	accessToken, err := c.sessionAccessToken(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	resp, err := c.doResourceCall(ctx, method, rawURL, body, accessToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanAttributes(span,
		attribute.Int(instrumentation.AttrHTTPStatusCode, resp.StatusCode))
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// CallProtectedResourceWithToken is CallProtectedResource with an explicit
// access token, bypassing the session record. The proof is still signed with
// the session key, so the token must be bound to it.
func (c *Client) CallProtectedResourceWithToken(ctx context.Context, method, rawURL string, body io.Reader, accessToken string) (*http.Response, error) {
	if accessToken == "" {
		return nil, ErrTokenMissing("access token is required")
	}
	return c.doResourceCall(ctx, method, rawURL, body, accessToken)
}

// sessionAccessToken returns a usable access token from the session record,
// refreshing it first when expired.
func (c *Client) sessionAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.AccessToken == "" {
		return "", ErrTokenMissing("not authenticated")
	}

	if security.IsTokenExpired(c.token.Expiry) {
		if c.token.RefreshToken == "" {
			return "", ErrTokenMissing("access token expired and no refresh token is available")
		}
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}

	return c.token.AccessToken, nil
}

// doResourceCall signs and sends the request, retrying once if the resource
// server demands a DPoP nonce. The request body is buffered so the retry can
// replay it.
func (c *Client) doResourceCall(ctx context.Context, method, rawURL string, body io.Reader, accessToken string) (*http.Response, error) {
	if !c.validator.IsValid(ctx, rawURL) {
		c.auditor.LogURLRejected(c.config.ClientID, rawURL)
		if c.metrics != nil {
			c.metrics.RecordURLRejected(ctx)
		}
		return nil, ErrSecurityRejected("resource URL failed validation: " + rawURL)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, ErrResourceCall("failed to read request body").WithCause(err)
		}
	}

	start := time.Now()
	retried := false
	for {
		resp, err := c.sendResourceRequest(ctx, method, rawURL, payload, accessToken)
		if err != nil {
			return nil, err
		}

		serverNonce := resp.Header.Get("DPoP-Nonce")
		c.mu.Lock()
		c.setNonceLocked(nonceClassResource, serverNonce)
		c.mu.Unlock()

		if !retried && serverNonce != "" && isResourceNonceDemand(resp) {
			drainAndClose(resp)
			retried = true
			if c.metrics != nil {
				c.metrics.RecordNonceRetry(ctx, rawURL)
			}
			c.logger.Debug("retrying resource call with server-provided DPoP nonce")
			continue
		}

		durationMs := float64(time.Since(start).Milliseconds())
		if c.metrics != nil {
			c.metrics.RecordResourceCall(ctx, method, resp.StatusCode, durationMs)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
			resp.Body.Close()
			return nil, ErrResourceCall("protected resource request failed").
				WithUpstream(upstreamError(respBody), resp.StatusCode)
		}

		return resp, nil
	}
}

func (c *Client) sendResourceRequest(ctx context.Context, method, rawURL string, payload []byte, accessToken string) (*http.Response, error) {
	c.mu.Lock()
	nonce := c.nonceLocked(nonceClassResource)
	c.mu.Unlock()

	proof, err := c.signer.ProofForResource(method, rawURL, nonce, accessToken)
	if err != nil {
		return nil, ErrProofGeneration("failed to sign DPoP proof", err)
	}
	if c.metrics != nil {
		c.metrics.RecordProofSigned(ctx, method)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, ErrResourceCall("failed to build request").WithCause(err)
	}
	req.Header.Set("Authorization", "DPoP "+accessToken)
	req.Header.Set("DPoP", proof)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ErrResourceCall("protected resource unreachable").WithCause(err)
	}
	return resp, nil
}

// isResourceNonceDemand reports whether a resource response is a
// use_dpop_nonce challenge. Resource servers signal it through the
// WWW-Authenticate header (RFC 9449 section 8.2).
func isResourceNonceDemand(resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	return strings.Contains(resp.Header.Get("WWW-Authenticate"), useDPoPNonce)
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
}
