package workflow

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failed operation for the caller.
type ErrorClass string

const (
	// ErrorClassInvalidState means the operation is not legal from the current
	// contract or track state. It is a caller logic error and is never retried.
	ErrorClassInvalidState ErrorClass = "invalid_state"

	// ErrorClassForbidden means the permission oracle denied the capability.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassValidation means an input was missing or malformed.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict means the contract changed since the caller read it.
	// The caller should reload and retry.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassNotFound means the contract or track does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInternal wraps storage or oracle failures.
	ErrorClassInternal ErrorClass = "internal"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound        = errors.New("record not found")
	ErrStaleVersion    = errors.New("stale version")
	ErrOpenTrackExists = errors.New("an open track of this type already exists")
)

// Error is a classified workflow error with enough context for the caller
// to decide whether to reload and retry.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Operation is the engine operation that failed.
	Operation string `json:"operation,omitempty"`

	ContractID    string         `json:"contract_id,omitempty"`
	TrackID       string         `json:"track_id,omitempty"`
	CurrentStatus ContractStatus `json:"current_status,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s", e.Operation)
		if e.ContractID != "" {
			msg += ", contract=" + e.ContractID
		}
		if e.TrackID != "" {
			msg += ", track=" + e.TrackID
		}
		if e.CurrentStatus != "" {
			msg += ", status=" + string(e.CurrentStatus)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

func newError(class ErrorClass, code, message string, err error) *Error {
	return &Error{Class: class, Code: code, Message: message, Err: err}
}

// NewInvalidStateError creates a new invalid-state error.
func NewInvalidStateError(message string) *Error {
	return newError(ErrorClassInvalidState, ErrCodeInvalidState, message, nil)
}

// NewForbiddenError creates a new forbidden error.
func NewForbiddenError(message string) *Error {
	return newError(ErrorClassForbidden, ErrCodePermissionDenied, message, nil)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, ErrCodeValidation, message, err)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return newError(ErrorClassConflict, ErrCodeConflict, message, err)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *Error {
	return newError(ErrorClassInternal, ErrCodeInternal, message, err)
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithContract adds the contract id and its current status.
func (e *Error) WithContract(c *Contract) *Error {
	if c != nil {
		e.ContractID = c.ID
		e.CurrentStatus = c.Status
	}
	return e
}

// WithTrack adds a track id to an error.
func (e *Error) WithTrack(trackID string) *Error {
	e.TrackID = trackID
	return e
}

// WithCode overrides the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or ErrorClassInternal if err is not a *Error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsInvalidState returns true if the error is classified as invalid state.
func IsInvalidState(err error) bool { return err != nil && ClassOf(err) == ErrorClassInvalidState }

// IsForbidden returns true if the error is classified as forbidden.
func IsForbidden(err error) bool { return err != nil && ClassOf(err) == ErrorClassForbidden }

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool { return err != nil && ClassOf(err) == ErrorClassValidation }

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool { return err != nil && ClassOf(err) == ErrorClassConflict }

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool { return err != nil && ClassOf(err) == ErrorClassNotFound }

// Common error codes.
const (
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeAlreadyEscalated = "ALREADY_ESCALATED"
	ErrCodeTrackOpen        = "TRACK_ALREADY_OPEN"
	ErrCodeTrackNotRequired = "TRACK_NOT_REQUIRED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCommentTooShort  = "COMMENT_TOO_SHORT"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
