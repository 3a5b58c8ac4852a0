package document

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document id has no row.
var ErrNotFound = errors.New("document not found")

// ErrDocumentLocked is returned when a skip-on-contention claim finds the row
// held by another worker. It is retryable: the holder will finish and release.
var ErrDocumentLocked = errors.New("document locked by another worker")

// PreconditionError reports a stage invoked before its predecessor completed.
// This is an ordering bug, never retried: the state machine's guarantees
// would be corrupted by masking it.
type PreconditionError struct {
	Stage  Stage
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("stage %s precondition: %s", e.Stage, e.Reason)
}

// RateLimitError carries a server-specified wait from a 429 response. The
// next attempt must not occur before RetryAfter has elapsed.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from a remote source.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// RetryableStatus reports whether an HTTP status code indicates a transient
// condition worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
