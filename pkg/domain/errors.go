package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransportError wraps a network-level or server-side transient failure of
// one API call. Transport errors are the only retryable class in the
// taxonomy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// PathNotFoundError means a path segment matched no child of its parent.
type PathNotFoundError struct {
	Path    string
	Segment string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path %q: no entry named %q", e.Path, e.Segment)
}

// NotADirectoryError means a non-terminal path segment resolved to a file.
type NotADirectoryError struct {
	Path    string
	Segment string
}

func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("path %q: %q is not a directory", e.Path, e.Segment)
}

// SubmissionRejectedError means the server refused an extraction request
// outright (unsupported format, broken archive, quota). Never retried.
type SubmissionRejectedError struct {
	Code    int
	Message string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("extraction rejected (code %d): %s", e.Code, e.Message)
}

// RetriesExhaustedError means an operation kept failing transiently until
// the attempt budget ran out. Last preserves the final underlying error.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}
func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// PartialMoveError means some extracted files reached the destination and
// some did not. The moved files stay where they are; FailedFids lists what
// was left behind in the staging folder.
type PartialMoveError struct {
	Moved      int
	FailedFids []string
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("moved %d files, %d left in staging: %s",
		e.Moved, len(e.FailedFids), strings.Join(e.FailedFids, ", "))
}

// TimeoutError means a remote extraction task outlived the polling budget.
// The remote task itself is left running; only the local wait stops.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extraction still pending after %s", e.Elapsed)
}

var (
	_ error = (*TransportError)(nil)
	_ error = (*PathNotFoundError)(nil)
	_ error = (*NotADirectoryError)(nil)
	_ error = (*SubmissionRejectedError)(nil)
	_ error = (*RetriesExhaustedError)(nil)
	_ error = (*PartialMoveError)(nil)
	_ error = (*TimeoutError)(nil)
)

// IsRetryable is the single classification point for the retry policy:
// transport failures may be retried, everything else is terminal.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
