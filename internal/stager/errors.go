package stager

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a staging failure.
type ErrorKind int

const (
	// KindWriteFailed means the payload could not be written to disk.
	KindWriteFailed ErrorKind = iota + 1

	// KindPermissionFailed means the execute bit could not be set.
	KindPermissionFailed
)

// Sentinels matched by errors.Is against a *StageError.
var (
	ErrWriteFailed      = errors.New("payload write failed")
	ErrPermissionFailed = errors.New("payload permission change failed")
)

// String returns a human-readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindWriteFailed:
		return "write_failed"
	case KindPermissionFailed:
		return "permission_failed"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	if k == KindPermissionFailed {
		return ErrPermissionFailed
	}
	return ErrWriteFailed
}

// StageError is returned by Stager.Stage. It is fatal for the command that
// needed the binary, not for the process.
type StageError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}
