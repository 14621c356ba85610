// Package errors provides the error code taxonomy for the sync core.
package errors

import "fmt"

// ErrorCode classifies a failure for retry policy and user display.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Storage: local persistence failed. Fatal for that call, never
	// silently retried.
	ErrStorage      ErrorCode = "STORAGE_ERROR"
	ErrQueueCorrupt ErrorCode = "QUEUE_CORRUPT"

	// Network: transient transport failure. Retried with backoff; never
	// triggers a rollback.
	ErrNetwork ErrorCode = "NETWORK_ERROR"

	// Conflict: the remote rejected our sync_version. May auto-resolve via
	// field merge or require an explicit keep-local/take-remote decision.
	ErrConflict ErrorCode = "CONFLICT"

	// Validation: permanent rejection. Triggers rollback of the optimistic
	// local write; never retried.
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrTagLimitExceeded ErrorCode = "TAG_LIMIT_EXCEEDED"

	// Auth: halts all draining until re-authentication. Queued entries are
	// preserved, never dropped.
	ErrAuth ErrorCode = "AUTH_ERROR"

	// Sync lifecycle
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"
)

// AppError is an error with a taxonomy code and optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			if appErr.Code == code {
				return true
			}
			err = appErr.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the outermost taxonomy code of err, or ErrInternal when err
// carries none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternal
}

// Transient reports whether err should be retried with backoff rather than
// treated as a permanent failure.
func Transient(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrSyncTimeout:
		return true
	}
	return false
}
