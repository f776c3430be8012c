// Package syncerr defines the error taxonomy shared by the capture queue,
// the remote collaborators and the synchronization engine.
//
// Callers classify failures with Is and IsRetryable rather than matching on
// message text. All helpers use errors.As, so wrapped errors classify the same
// as the originals.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeStorageUnavailable means local persistence failed. The capture must
	// be kept in memory by the caller.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeNetwork is a transport failure while talking to a remote collaborator.
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeValidation means the remote rejected the payload. Retrying the same
	// payload will not help.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeServer is a remote failure that is worth retrying.
	CodeServer Code = "SERVER_ERROR"

	// CodeNotFound means the referenced queue record does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicate means a record with the same local id is already queued.
	CodeDuplicate Code = "DUPLICATE"

	// CodeRemoteIDConflict means a different remote id was written over an
	// existing one.
	CodeRemoteIDConflict Code = "REMOTE_ID_CONFLICT"
)

// Error is a classified failure.
type Error struct {
	Code    Code
	Op      string // operation that failed, e.g. "store.append"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Storage wraps err as StorageUnavailable.
func Storage(op string, err error) *Error {
	return Wrap(CodeStorageUnavailable, op, err)
}

// CodeOf returns the code of the first Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsValidation reports whether the remote rejected the payload.
func IsValidation(err error) bool {
	return Is(err, CodeValidation)
}

// IsStorage reports whether err is a local persistence failure.
func IsStorage(err error) bool {
	return Is(err, CodeStorageUnavailable)
}

// IsRetryable reports whether the same request may succeed later.
// Network and server errors are retryable. Unclassified errors from
// collaborators are treated as retryable too; only validation failures and
// local bookkeeping errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeNetwork, CodeServer, "":
		return true
	default:
		return false
	}
}
