package videos

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Integrity and contract errors fail fast;
// transient errors are wrapped in Retryable so the worker can tell them apart.
var (
	ErrNotFound          = errors.New("video not found")
	ErrUploadNotFound    = errors.New("upload session not found")
	ErrOffsetMismatch    = errors.New("upload offset mismatch")
	ErrSizeMismatch      = errors.New("declared size does not match bytes received")
	ErrEmptyUpload       = errors.New("upload is empty")
	ErrUnsupportedFormat = errors.New("unsupported container format")
	ErrSourceMissing     = errors.New("source object missing or truncated")
	ErrForbidden         = errors.New("caller does not own this video")
	ErrJobLeased         = errors.New("job is leased by a worker")

	// ErrStaleRecord is the compare-and-swap miss on a status update:
	// another writer advanced the record first. The loser abandons its
	// outcome; it must not overwrite the winner's.
	ErrStaleRecord = errors.New("record changed by another writer")

	// ErrLeaseExpired means the broker no longer recognizes this worker's
	// claim on the job; someone else may hold it now.
	ErrLeaseExpired = errors.New("job lease expired")
)

// RetryableError marks a transient failure (network blip, object store
// timeout) that the worker may re-enqueue.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ContractError signals a programming or ordering violation, e.g. a stage
// invoked against a record in the wrong status. Never retried, never swallowed.
type ContractError struct {
	Op     string
	Detail string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Op, e.Detail)
}
