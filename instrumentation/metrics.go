package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth client library
type Metrics struct {
	// Authorization Flow Metrics
	AuthorizationStarted   metric.Int64Counter
	AuthorizationCompleted metric.Int64Counter
	TokenRefreshed         metric.Int64Counter

	// DPoP Metrics
	ProofsSigned metric.Int64Counter
	NonceRetries metric.Int64Counter

	// Protected Resource Metrics
	ResourceCallsTotal   metric.Int64Counter
	ResourceCallDuration metric.Float64Histogram

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	URLRejected       metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokensCount       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.AuthorizationStarted, err = inst.clientMeter.Int64Counter(
		"oauth.authorization.started",
		metric.WithDescription("Number of authorization flows started via pushed authorization requests"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.AuthorizationCompleted, err = inst.clientMeter.Int64Counter(
		"oauth.authorization.completed",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.completed counter: %w", err)
	}

	m.TokenRefreshed, err = inst.clientMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of access token refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.ProofsSigned, err = inst.clientMeter.Int64Counter(
		"oauth.dpop.proofs.signed",
		metric.WithDescription("Number of DPoP proof JWTs signed"),
		metric.WithUnit("{proof}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dpop.proofs.signed counter: %w", err)
	}

	m.NonceRetries, err = inst.clientMeter.Int64Counter(
		"oauth.dpop.nonce.retries",
		metric.WithDescription("Number of requests retried after a DPoP nonce challenge"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dpop.nonce.retries counter: %w", err)
	}

	m.ResourceCallsTotal, err = inst.clientMeter.Int64Counter(
		"oauth.resource.calls.total",
		metric.WithDescription("Total number of protected resource calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource.calls.total counter: %w", err)
	}

	m.ResourceCallDuration, err = inst.clientMeter.Float64Histogram(
		"oauth.resource.call.duration",
		metric.WithDescription("Protected resource call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource.call.duration histogram: %w", err)
	}

	m.RateLimitExceeded, err = inst.securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit denials"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.URLRejected, err = inst.securityMeter.Int64Counter(
		"oauth.url.rejected",
		metric.WithDescription("Number of outbound URLs rejected by the SSRF gate"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create url.rejected counter: %w", err)
	}

	m.StorageOperationTotal, err = inst.storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = inst.storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageTokensCount, err = inst.storageMeter.Int64ObservableGauge(
		"storage.tokens.count",
		metric.WithDescription("Number of token records currently stored"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordAuthorizationStarted records a successful pushed authorization request
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordAuthorizationCompleted records a code exchange result
func (m *Metrics) RecordAuthorizationCompleted(ctx context.Context, clientID string, success bool) {
	m.AuthorizationCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a token refresh operation. rotated reports
// whether the server returned a new refresh token.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.Bool(AttrTokenRotated, rotated),
	))
}

// RecordProofSigned records a DPoP proof generation
func (m *Metrics) RecordProofSigned(ctx context.Context, htm string) {
	m.ProofsSigned.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProofMethod, htm),
	))
}

// RecordNonceRetry records a retry triggered by a DPoP nonce challenge
func (m *Metrics) RecordNonceRetry(ctx context.Context, endpoint string) {
	m.NonceRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEndpoint, endpoint),
	))
}

// RecordResourceCall records a protected resource call
func (m *Metrics) RecordResourceCall(ctx context.Context, method string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	}

	m.ResourceCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ResourceCallDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
	))
}

// RecordRateLimitExceeded records a rate limit denial
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordURLRejected records an SSRF gate rejection
func (m *Metrics) RecordURLRejected(ctx context.Context) {
	m.URLRejected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
	))
}
