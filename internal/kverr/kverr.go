// Package kverr defines the error taxonomy shared by every FlintKV layer.
//
// Callers classify failures with errors.Is against the sentinels, or with
// errors.As against *IOError for filesystem failures.
package kverr

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptLog marks on-disk data (log, snapshot or manifest) that is
	// structurally invalid and cannot be explained by a torn final write.
	ErrCorruptLog = errors.New("corrupt log")

	// ErrInvalidInput marks caller-supplied keys or values that violate size limits.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreClosed is returned once the store worker is unreachable or has shut down.
	ErrStoreClosed = errors.New("store closed")
)

// IOError wraps an underlying filesystem failure with the operation and path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IO wraps err as an *IOError. A nil err stays nil.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// Corrupt returns an error matching ErrCorruptLog with a formatted reason.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptLog, fmt.Sprintf(format, args...))
}

// Invalid returns an error matching ErrInvalidInput with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Closed returns an error matching ErrStoreClosed with a reason.
func Closed(reason string) error {
	return fmt.Errorf("%w: %s", ErrStoreClosed, reason)
}

// IsIO reports whether err carries an underlying filesystem failure.
func IsIO(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
