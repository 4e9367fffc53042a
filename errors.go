package oauth

import (
	"errors"
	"fmt"
)

// ErrKind classifies flow errors so callers can branch on the stage that
// failed rather than parsing error strings.
type ErrKind string

// Error kinds as constants
const (
	KindConfiguration    ErrKind = "configuration"
	KindSecurityRejected ErrKind = "security_rejected"
	KindProofGeneration  ErrKind = "proof_generation"
	KindAuthorization    ErrKind = "authorization"
	KindTokenExchange    ErrKind = "token_exchange"
	KindTokenRefresh     ErrKind = "token_refresh"
	KindTokenMissing     ErrKind = "token_missing"
	KindResourceCall     ErrKind = "resource_call"
)

// FlowError represents a failure in the authorization flow
type FlowError struct {
	Kind        ErrKind // which stage of the flow failed
	Description string  // human-readable error description
	Upstream    string  // error code or body returned by the authorization server, if any
	Status      int     // HTTP status code from the upstream response, 0 if none
	Err         error   // wrapped cause, if any
}

// Error implements the error interface
func (e *FlowError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Description)
	if e.Upstream != "" {
		msg += fmt.Sprintf(" (upstream: %s)", e.Upstream)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status: %d)", e.Status)
	}
	return msg
}

// Unwrap returns the wrapped cause
func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError creates a new flow error
func NewFlowError(kind ErrKind, description string) *FlowError {
	return &FlowError{Kind: kind, Description: description}
}

// WithUpstream attaches the authorization server's error code and HTTP status
func (e *FlowError) WithUpstream(upstream string, status int) *FlowError {
	e.Upstream = upstream
	e.Status = status
	return e
}

// WithCause attaches the underlying error
func (e *FlowError) WithCause(err error) *FlowError {
	e.Err = err
	return e
}

// Common flow errors as reusable constructors
var (
	// ErrConfiguration indicates invalid or incomplete client configuration
	ErrConfiguration = func(desc string) *FlowError {
		return NewFlowError(KindConfiguration, desc)
	}

	// ErrSecurityRejected indicates a request was refused before any network
	// traffic by a security gate (rate limiter or URL validation)
	ErrSecurityRejected = func(desc string) *FlowError {
		return NewFlowError(KindSecurityRejected, desc)
	}

	// ErrProofGeneration indicates a DPoP proof could not be signed
	ErrProofGeneration = func(desc string, cause error) *FlowError {
		return NewFlowError(KindProofGeneration, desc).WithCause(cause)
	}

	// ErrAuthorization indicates the pushed authorization request was rejected
	ErrAuthorization = func(desc string) *FlowError {
		return NewFlowError(KindAuthorization, desc)
	}

	// ErrTokenExchange indicates the authorization code exchange failed
	ErrTokenExchange = func(desc string) *FlowError {
		return NewFlowError(KindTokenExchange, desc)
	}

	// ErrTokenRefresh indicates a refresh grant was rejected
	ErrTokenRefresh = func(desc string) *FlowError {
		return NewFlowError(KindTokenRefresh, desc)
	}

	// ErrTokenMissing indicates no usable token exists for the session
	ErrTokenMissing = func(desc string) *FlowError {
		return NewFlowError(KindTokenMissing, desc)
	}

	// ErrResourceCall indicates a protected resource returned a non-success response
	ErrResourceCall = func(desc string) *FlowError {
		return NewFlowError(KindResourceCall, desc)
	}
)

// IsKind reports whether err is a *FlowError of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
