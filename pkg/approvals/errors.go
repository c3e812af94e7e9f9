package approvals

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel stores return when a row does not exist.
// Store implementations wrap it; the service translates it to CodeNotFound.
var ErrNotFound = errors.New("not found")

// Stable error codes surfaced across the service boundary. Codes, not
// messages, are the contract: clients and the HTTP layer branch on them.
const (
	CodePreviewPersistFailed = "PREVIEW_PERSIST_FAILED"
	CodeApprovalCreateFailed = "APPROVAL_CREATE_FAILED"
	CodeApprovalListFailed   = "APPROVAL_LIST_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodePreviewMissing       = "PREVIEW_MISSING"
	CodeToolNotFound         = "TOOL_NOT_FOUND"
	CodeApplyFailed          = "APPLY_FAILED"
	CodeRejectFailed         = "REJECT_FAILED"
	CodeCancelFailed         = "CANCEL_FAILED"
	CodeAutoApproveFailed    = "AUTO_APPROVE_FAILED"
	CodeUnavailable          = "UNAVAILABLE"
)

// Error is a coded service error. A policy block is not an Error: blocked
// applies are reported as a successful ApplyOutcome.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	cause error
}

// Errf builds a coded error with a formatted message. %w wrapping is
// honored so errors.Is and errors.As keep working through the code.
func Errf(code, format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{
		Code:    code,
		Message: err.Error(),
		cause:   errors.Unwrap(err),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the service error code from any error in the chain.
// Unknown errors report an empty code.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
