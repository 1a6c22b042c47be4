package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies dispatch errors. The kind drives three independent
// decisions: whether the retry loop may try again, whether the failure
// counts against the provider's circuit breaker, and whether the dispatcher
// may fall back to the secondary provider.
type ErrorKind int

const (
	// ErrKindTransport covers connection refused/reset and DNS failures.
	ErrKindTransport ErrorKind = iota

	// ErrKindTimeout covers deadline exceeded and stalled reads.
	ErrKindTimeout

	// ErrKindRateLimited is an upstream 429.
	ErrKindRateLimited

	// ErrKindServerError is an upstream 5xx.
	ErrKindServerError

	// ErrKindCircuitOpen means the provider's breaker rejected the call
	// before any network activity.
	ErrKindCircuitOpen

	// ErrKindInvalidRequest is an upstream 4xx other than 429.
	ErrKindInvalidRequest

	// ErrKindToolIncompatible means the upstream rejected the tool schema.
	ErrKindToolIncompatible

	// ErrKindNoChoices means the upstream returned a syntactically valid
	// but unusable response (empty choices, malformed body).
	ErrKindNoChoices

	// ErrKindConfig means the provider is missing an endpoint or key.
	ErrKindConfig
)

// String returns the wire label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindServerError:
		return "server_error"
	case ErrKindCircuitOpen:
		return "circuit_breaker_open"
	case ErrKindInvalidRequest:
		return "invalid_request"
	case ErrKindToolIncompatible:
		return "tool_incompatible"
	case ErrKindNoChoices:
		return "no_choices"
	case ErrKindConfig:
		return "config"
	default:
		return "error"
	}
}

// IsRetryable reports whether the retry loop may attempt again.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrKindTransport, ErrKindTimeout, ErrKindRateLimited, ErrKindServerError:
		return true
	}
	return false
}

// CountsForBreaker reports whether the failure increments the breaker.
func (k ErrorKind) CountsForBreaker() bool {
	switch k {
	case ErrKindTransport, ErrKindTimeout, ErrKindRateLimited,
		ErrKindServerError, ErrKindToolIncompatible, ErrKindNoChoices:
		return true
	}
	return false
}

// FallbackEligible reports whether the dispatcher may retry the whole
// dispatch on the fallback provider.
func (k ErrorKind) FallbackEligible() bool {
	switch k {
	case ErrKindTransport, ErrKindTimeout, ErrKindRateLimited,
		ErrKindServerError, ErrKindCircuitOpen, ErrKindToolIncompatible:
		return true
	}
	return false
}

// HTTPStatus maps the kind to the status surfaced to the caller. Kinds that
// mirror an upstream status keep it; untranslatable kinds become 502.
func (k ErrorKind) HTTPStatus(upstream int) int {
	switch k {
	case ErrKindTimeout:
		return http.StatusGatewayTimeout
	case ErrKindCircuitOpen, ErrKindConfig:
		return http.StatusServiceUnavailable
	case ErrKindRateLimited:
		return http.StatusTooManyRequests
	case ErrKindInvalidRequest:
		if upstream >= 400 && upstream < 500 {
			return upstream
		}
		return http.StatusBadRequest
	}
	if upstream >= 500 {
		return upstream
	}
	return http.StatusBadGateway
}

// Error is a classified dispatch error. It wraps the original cause with
// the metadata the dispatcher, metrics, and HTTP layer need.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int    // upstream HTTP status, 0 if unknown
	Provider   string // provider identifier that produced the error
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error.
func NewError(kind ErrorKind, provider, msg string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: msg}
}

// WrapError classifies cause under the given kind.
func WrapError(kind ErrorKind, provider string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: kind.String(), Cause: cause}
}

// KindOf extracts the kind from any error. Unclassified errors report the
// catch-all by convention of ErrorKind.String.
func KindOf(err error) (ErrorKind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

// FromStatus classifies an upstream HTTP status with its response body.
func FromStatus(provider string, status int, body string) *Error {
	kind := ErrKindInvalidRequest
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrKindRateLimited
	case status >= 500:
		kind = ErrKindServerError
	case status >= 400 && looksToolIncompatible(body):
		kind = ErrKindToolIncompatible
	}
	return &Error{
		Kind:       kind,
		Message:    fmt.Sprintf("upstream status %d: %s", status, truncate(body, 200)),
		StatusCode: status,
		Provider:   provider,
	}
}

// Classify examines a transport-level error and returns a classified Error.
// Already-classified errors pass through unchanged.
func Classify(err error, provider string) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrKindTimeout, provider, err)
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation before any bytes are read counts as a timeout for
		// breaker accounting.
		return WrapError(ErrKindTimeout, provider, err)
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return WrapError(ErrKindTimeout, provider, err)
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "eof"):
		return WrapError(ErrKindTransport, provider, err)
	}
	return WrapError(ErrKindTransport, provider, err)
}

// looksToolIncompatible pattern-matches provider payloads that reject the
// tool schema rather than the request as a whole.
func looksToolIncompatible(body string) bool {
	s := strings.ToLower(body)
	if !strings.Contains(s, "tool") && !strings.Contains(s, "function") {
		return false
	}
	for _, p := range []string{"does not support", "unsupported", "invalid schema", "unknown field", "not allowed"} {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
