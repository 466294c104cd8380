package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Terminal and retriable conditions surfaced by data and chunk
// sources. Sources wrap these with context; callers test with
// errors.Is.
var (
	// ErrNotFound means no source produced the requested object.
	ErrNotFound = errors.New("not found")
	// ErrBlocked means the object is on a blocklist. It is terminal
	// and the object must never be cached positively.
	ErrBlocked = errors.New("blocked")
	// ErrRangeUnsatisfiable means the requested range lies outside the
	// object's bounds.
	ErrRangeUnsatisfiable = errors.New("range not satisfiable")
	// ErrValidationFailed means a cryptographic check failed on a
	// chunk. Retriable against another peer, never surfaced to the
	// client as-is.
	ErrValidationFailed = errors.New("chunk validation failed")
	// ErrPeerUnavailable means an individual peer request failed.
	ErrPeerUnavailable = errors.New("peer unavailable")
)

// PermanentError marks an irrecoverable upstream condition. It
// short-circuits source fallthrough and discards speculative cache
// writes.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that no further sources are tried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in
// its chain. A blocked object is always permanent.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrBlocked) {
		return true
	}
	target := &PermanentError{}
	return errors.As(err, &target)
}

// IsCancelled reports whether err originated from context
// cancellation rather than a source failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AllSourcesFailedError aggregates the per-source failures of an
// exhausted composite race.
type AllSourcesFailedError struct {
	Children []error
}

func (e *AllSourcesFailedError) Error() string {
	msgs := make([]string, 0, len(e.Children))
	for _, child := range e.Children {
		if child == nil {
			continue
		}
		msgs = append(msgs, child.Error())
	}
	return fmt.Sprintf("all %d sources failed: %s", len(e.Children), strings.Join(msgs, "; "))
}
