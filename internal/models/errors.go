package models

import "errors"

var (
	// ErrAlreadyExists is returned when a job with the same ID was already created.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrNotFound is returned for unknown job IDs and orphaned notifications.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidRequest marks input rejected at the boundary.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineRejected means the OCR engine refused or timed out on the start call.
	ErrEngineRejected = errors.New("extraction engine rejected the job")
	// ErrEngineFailure means the OCR engine reported the extraction itself failed.
	ErrEngineFailure = errors.New("extraction engine reported failure")
	// ErrTransientIO is retryable; it never results in a Job Store write.
	ErrTransientIO = errors.New("transient I/O error")
	// ErrCallbackDeliveryFailed is non-fatal; the Job Store stays the source of truth.
	ErrCallbackDeliveryFailed = errors.New("callback delivery failed")
	// ErrRefCollision means an engine reference is already bound to a different job.
	ErrRefCollision = errors.New("external job reference already bound to another job")
)

// IsRetryable reports whether the notification channel should redeliver.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
