package gitops

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a requested path does not exist in a workspace
var ErrNotFound = errors.New("file not found in workspace")

// CloneError is the typed failure for a repository clone. A failed
// clone never leaves a partial workspace behind.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s: %v", e.URL, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// DeliveryError is the typed failure for pushing the fix branch or
// opening the pull request. Callers must not blindly retry: PR
// creation is a visible, non-idempotent side effect.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
