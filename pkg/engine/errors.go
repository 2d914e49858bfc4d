package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary external failure that may
	// succeed on retry: network timeouts, 5xx responses, store throttling.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates an optimistic-write conflict: the
	// destination document changed between read and write. Retried with the
	// read-modify-write repeated.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error, such as a
	// classifier response that fails schema validation. Never retried
	// automatically.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassAuth indicates an expired or revoked credential. Fatal for
	// the whole invocation; in-flight claims are left to expire.
	ErrorClassAuth ErrorClass = "auth"
)

// PipelineError is a classified error with routing context attached.
type PipelineError struct {
	// Class drives retry behaviour.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// ItemID is the source item involved, if applicable.
	ItemID string `json:"item_id,omitempty"`

	// Destination is the destination key involved, if applicable.
	Destination string `json:"destination,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	switch {
	case e.ItemID != "" && e.Destination != "":
		return fmt.Sprintf("[%s] %s (item=%s, destination=%s): %s",
			e.Class, e.Message, e.ItemID, e.Destination, e.unwrapMessage())
	case e.ItemID != "":
		return fmt.Sprintf("[%s] %s (item=%s): %s", e.Class, e.Message, e.ItemID, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is: two pipeline errors match when
// their classes match.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a transient external error.
func NewTransientError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates an optimistic-write conflict error.
func NewConflictError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a permanent validation error.
func NewPermanentError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewAuthError creates a credential error that aborts the invocation.
func NewAuthError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassAuth, Message: message, Err: err}
}

// WithItem adds source item context to an error.
func (e *PipelineError) WithItem(itemID string) *PipelineError {
	e.ItemID = itemID
	return e
}

// WithDestination adds destination context to an error.
func (e *PipelineError) WithDestination(key string) *PipelineError {
	e.Destination = key
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsAuth returns true if the error is classified as a credential failure.
func IsAuth(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassAuth
	}
	return false
}

// IsRetryable returns true if the error may succeed on a later attempt.
// Transient and conflict errors are retryable; permanent and auth are not.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// ErrAlreadyClaimed is returned by a claim attempt that lost the race to a
// live claim held by another invocation.
var ErrAlreadyClaimed = errors.New("item already claimed by a live invocation")

// ErrNotFound is returned by store lookups for missing documents or folders.
var ErrNotFound = errors.New("not found")
