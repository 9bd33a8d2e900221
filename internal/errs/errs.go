// Package errs defines the three failure classes of the operation log.
//
//   - StorageError: the queue or offset store cannot read or write its
//     backing storage. Fatal for the session; must reach an operator.
//   - DispatchError: the backend rejected a batch. Retryable; the batch stays
//     queued and the consumer retries on a later tick.
//   - UsageError: a documented precondition was violated (double start,
//     second writer on a session, use after close).
package errs

import (
	"errors"
	"fmt"
)

// StorageError reports a failed read or write of durable state.
type StorageError struct {
	Op      string
	Session string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("storage: %s (session %s): %v", e.Op, e.Session, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DispatchError reports a batch the backend did not accept. First and Last
// are the versions bounding the batch.
type DispatchError struct {
	Session string
	First   uint64
	Last    uint64
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: session %s versions %d..%d: %v", e.Session, e.First, e.Last, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// UsageError reports a violated precondition.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s: %s", e.Op, e.Reason)
}

// Storage wraps err as a StorageError. A nil err returns nil.
func Storage(op, session string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Session: session, Err: err}
}

// Usage builds a UsageError.
func Usage(op, format string, args ...interface{}) error {
	return &UsageError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

func IsDispatch(err error) bool {
	var e *DispatchError
	return errors.As(err, &e)
}

func IsUsage(err error) bool {
	var e *UsageError
	return errors.As(err, &e)
}
