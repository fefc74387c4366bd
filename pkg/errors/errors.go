package errors

import (
	"errors"
	"fmt"
)

// SyncError provides a structured error for the data-access layer. Errors are
// classified so callers (and the replay engine) can distinguish transient
// connectivity loss from permanent backend rejections.
type SyncError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // remote HTTP status when the backend answered
	Internal   error  `json:"-"`
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches against the sentinel values below by code, so wrapped copies
// produced by WithInternal still satisfy errors.Is(err, ErrNetworkUnavailable).
func (e *SyncError) Is(target error) bool {
	var other *SyncError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// WithInternal returns a copy of the SyncError with an attached internal error.
func (e *SyncError) WithInternal(err error) *SyncError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithStatus returns a copy of the SyncError carrying the remote status code.
func (e *SyncError) WithStatus(status int) *SyncError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.StatusCode = status
	return &cpy
}

// Failure taxonomy of the offline layer.
var (
	// ErrNetworkUnavailable marks transient reachability loss. It triggers the
	// read fallback chain or the write queueing path and is never surfaced to
	// callers as a fault.
	ErrNetworkUnavailable = &SyncError{
		Code:    "NETWORK_UNAVAILABLE",
		Message: "remote backend unreachable",
	}

	// ErrRemoteRejected marks a reachable backend returning a non-success
	// response, such as a validation failure.
	ErrRemoteRejected = &SyncError{
		Code:    "REMOTE_REJECTED",
		Message: "remote backend rejected the request",
	}

	// ErrQueueEntryCorrupted marks a persisted queue entry that fails to
	// deserialize. Such entries are skipped, never allowed to block the queue.
	ErrQueueEntryCorrupted = &SyncError{
		Code:    "QUEUE_ENTRY_CORRUPTED",
		Message: "queued request could not be decoded",
	}

	// ErrCacheUnavailable marks a read for which no cached snapshot and no
	// local record exists. Surfaced as an empty result, not a fault.
	ErrCacheUnavailable = &SyncError{
		Code:    "CACHE_UNAVAILABLE",
		Message: "no cached or local data available",
	}
)

// New builds a new sync error with the provided metadata.
func New(code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// Wrap turns any error into a SyncError while keeping the original for logging.
func Wrap(err error, message string) *SyncError {
	return &SyncError{
		Code:     "INTERNAL_ERROR",
		Message:  message,
		Internal: err,
	}
}

// FromError converts a generic error into a SyncError. Plain transport errors
// are treated as connectivity loss, the conservative default for this layer.
func FromError(err error) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	return ErrNetworkUnavailable.WithInternal(err)
}

// IsTransient reports whether the error should be retried on the next
// connectivity trigger rather than counted against the retry budget.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable)
}
