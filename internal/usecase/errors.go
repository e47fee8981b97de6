package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorInvalidSelection   ErrorCode = "INVALID_SELECTION"
	ErrorQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrorQuotaUnavailable   ErrorCode = "QUOTA_UNAVAILABLE"
	ErrorSubmissionInFlight ErrorCode = "SUBMISSION_IN_FLIGHT"
	ErrorNoValidModel       ErrorCode = "NO_VALID_MODEL_SELECTED"
	ErrorTimeout            ErrorCode = "TIMEOUT"
	ErrorBackendRejected    ErrorCode = "BACKEND_REJECTED"
	ErrorBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrorPersistence        ErrorCode = "PERSISTENCE_FAILURE"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error is the coded failure returned by every service in this package.
// Message is safe to show to end users; Reason is a stable machine tag.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func (e *Error) withMessage(msg string) *Error {
	e.Message = msg
	return e
}

// CodeOf extracts the ErrorCode of err, or ErrorInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}
