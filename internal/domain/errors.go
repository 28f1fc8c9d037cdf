package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInsufficientData marks a sample smaller than a component's minimum size.
	// Components resolve it to conservative defaults instead of returning it.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMalformedRecord marks a single record that cannot be used. Readers skip it.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrPersistence marks a failed read or write of persisted state. It aborts the cycle commit.
	ErrPersistence = errors.New("persistence failure")
	// ErrPolicyMissing marks an absent policy that was replaced by documented defaults.
	ErrPolicyMissing = errors.New("policy missing")
)

// PersistenceError wraps a state read/write failure with the artifact it happened on.
type PersistenceError struct {
	Artifact string
	Err      error
}

// NewPersistenceError wraps err, returning nil for nil err.
func NewPersistenceError(artifact string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Artifact: artifact, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Artifact, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence as a match so callers can use errors.Is.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
