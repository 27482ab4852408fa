package model

import "errors"

// Code is a stable, closed error code. Every error the core returns across
// a component boundary carries one of these, never a raw Go error string.
type Code string

const (
	CodeValidation          Code = "validation"
	CodePermission          Code = "permission"
	CodePolicyDenied        Code = "policy_denied"
	CodePrecondition        Code = "precondition"
	CodeVerificationFailed  Code = "verification_failed"
	CodeNotFound            Code = "not_found"
	CodeStaleHandle         Code = "stale_handle"
	CodeTimedOut            Code = "timed_out"
	CodeCancelled           Code = "cancelled"
	CodeUnavailable         Code = "unavailable"
	CodeUnsupported         Code = "unsupported"
	CodeRateLimited         Code = "rate_limited"
	CodeBindingMismatch     Code = "binding_mismatch"
	CodeChainIntegrity      Code = "chain_integrity"
	CodeClassifierUncertain Code = "classifier_uncertain"
	CodeDurability          Code = "durability"
	CodeInternal            Code = "internal"

	// Tool Router specific failure codes (spec.md §4.5).
	CodeNotInteractable   Code = "not_interactable"
	CodeBlockedByOverlay  Code = "blocked_by_overlay"
	CodePermissionRequired Code = "permission_required"

	// Capability Token Service specific failure codes (spec.md §4.2).
	CodeExpired         Code = "expired"
	CodeUnknownKey      Code = "unknown_key"
	CodeToolNotPermitted Code = "tool_not_permitted"

	// Event Store specific failure codes (spec.md §4.1).
	CodeChainConflict   Code = "chain_conflict"
	CodeSchemaViolation Code = "schema_violation"
	CodeBackpressure    Code = "backpressure"
)

// Retryable reports whether a transient retry is ever appropriate for code,
// per the closed taxonomy in spec.md §7. This is a property of the code,
// not of any particular occurrence; callers still honor per-step retry
// bounds and idempotency-category restrictions.
func (c Code) Retryable() bool {
	switch c {
	case CodeTimedOut, CodeUnavailable, CodeDurability, CodeRateLimited:
		return true
	default:
		return false
	}
}

// CoreError is the error value every component boundary returns. Message is
// derived locally from Code; it must never echo page content.
type CoreError struct {
	Code              Code
	Message           string
	ObservableSideEffect bool
	cause             error
}

func (e *CoreError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *CoreError) Unwrap() error { return e.cause }

// NewError builds a CoreError, optionally wrapping cause for %w chains.
func NewError(code Code, message string, cause error) *CoreError {
	return &CoreError{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) a *CoreError,
// otherwise returns CodeInternal.
func CodeOf(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
