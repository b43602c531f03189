// Package tenancy resolves the tenant a request acts on and enforces the
// isolation, entitlement and usage rules every request passes through.
package tenancy

import (
	"errors"
	"fmt"
)

// Code classifies a tenancy failure. Transports map codes to status codes.
type Code string

const (
	CodeInvalidIdentifier Code = "INVALID_TENANT_ID"
	CodeNotFound          Code = "TENANT_NOT_FOUND"
	CodeInactiveTenant    Code = "TENANT_INACTIVE"
	CodeTrialExpired      Code = "TRIAL_EXPIRED"
	CodeAccessDenied      Code = "ACCESS_DENIED"
	CodeFeatureDisabled   Code = "FEATURE_DISABLED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeStaleTransition   Code = "STALE_TRANSITION"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is the single error type of the tenancy layer.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrTrialExpired)
// holds for every trial-expired error regardless of its details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidIdentifier = &Error{Code: CodeInvalidIdentifier, Message: "invalid tenant id"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "tenant not found"}
	ErrInactiveTenant    = &Error{Code: CodeInactiveTenant, Message: "tenant is not active"}
	ErrTrialExpired      = &Error{Code: CodeTrialExpired, Message: "trial period has expired"}
	ErrAccessDenied      = &Error{Code: CodeAccessDenied, Message: "access denied"}
	ErrFeatureDisabled   = &Error{Code: CodeFeatureDisabled, Message: "feature not enabled for this plan"}
	ErrQuotaExceeded     = &Error{Code: CodeQuotaExceeded, Message: "plan limit exceeded"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid lifecycle transition"}
	ErrStaleTransition   = &Error{Code: CodeStaleTransition, Message: "tenant changed concurrently"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

// NewError builds an Error with optional details.
func NewError(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Internal wraps an unexpected failure. The message stays opaque; err is kept
// for logging only.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError returns err as an *Error, wrapping anything foreign as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
