package mailbox

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrTokenRevoked means the refresh token was rejected and the user must reconnect.
var ErrTokenRevoked = errors.New("mailbox token has been revoked")

var retryableReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"backendError":          true,
	"internalError":         true,
}

var fatalReasons = map[string]bool{
	"invalidGrant":       true,
	"authError":          true,
	"invalid":            true,
	"notFound":           true,
	"failedPrecondition": true,
	"invalidArgument":    true,
}

// ProviderError is a classified mailbox provider failure
type ProviderError struct {
	Op         string
	StatusCode int
	Reason     string
	Message    string
	Retryable  bool
	Auth       bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gmail %s failed (%d %s): %s", e.Op, e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("gmail %s failed: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// classifyError maps a provider failure onto the retry and auth taxonomy.
func classifyError(op string, err error) *ProviderError {
	var existing *ProviderError
	if errors.As(err, &existing) {
		return existing
	}

	pe := &ProviderError{Op: op, Message: err.Error(), Err: err}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.Code
		if apiErr.Message != "" {
			pe.Message = apiErr.Message
		}
		if len(apiErr.Errors) > 0 {
			pe.Reason = apiErr.Errors[0].Reason
		}
	}

	switch {
	case errors.Is(err, ErrTokenRevoked):
		pe.Auth = true
		pe.Reason = "invalid_grant"
	case pe.StatusCode == http.StatusUnauthorized:
		pe.Auth = true
	case pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500:
		pe.Retryable = true
	case retryableReasons[pe.Reason]:
		pe.Retryable = true
	case fatalReasons[pe.Reason]:
	case pe.StatusCode >= 400:
	case pe.StatusCode == 0:
		// transport failure, no response
		pe.Retryable = true
	}

	return pe
}

// IsAuthError reports whether err requires the mailbox to be reconnected
func IsAuthError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Auth
	}
	return errors.Is(err, ErrTokenRevoked)
}

// IsRetryable reports whether the failed call may succeed if repeated
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
