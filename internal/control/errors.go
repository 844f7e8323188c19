package control

import (
	"errors"
	"fmt"
)

// RemoteTransientError reports a control-plane failure that may succeed when
// retried: network errors, throttling and 5xx responses.
type RemoteTransientError struct {
	Op     string
	ID     string
	Status int
	Err    error
}

func (e *RemoteTransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: transient remote error (status %d): %v", e.Op, e.ID, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: transient remote error: %v", e.Op, e.ID, e.Err)
}

func (e *RemoteTransientError) Unwrap() error { return e.Err }

// RemoteConflictError reports that the resource is already in, or already
// moving to, the requested state. Reconciliation treats it as success.
type RemoteConflictError struct {
	Op     string
	ID     string
	Detail string
}

func (e *RemoteConflictError) Error() string {
	return fmt.Sprintf("%s %s: conflict: %s", e.Op, e.ID, e.Detail)
}

// NotFoundError reports that the resource does not exist remotely.
type NotFoundError struct {
	Op string
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Op, e.ID)
}

// RemoteError is a permanent rejection by the control plane, such as a
// validation failure or missing authorization.
type RemoteError struct {
	Op     string
	ID     string
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: remote error (status %d): %s", e.Op, e.ID, e.Status, e.Detail)
}

// IsTransient reports whether err wraps a RemoteTransientError.
func IsTransient(err error) bool {
	var target *RemoteTransientError
	return errors.As(err, &target)
}

// IsConflict reports whether err wraps a RemoteConflictError.
func IsConflict(err error) bool {
	var target *RemoteConflictError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
