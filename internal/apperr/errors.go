// Package apperr defines the error taxonomy shared by the store, services and adapters.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
	ErrBackup     = errors.New("backup failure")
)

// ValidationError rejects input that would create invalid state. Nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a driver or I/O failure of a store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// BackupError reports a snapshot, verification or restore failure.
type BackupError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

func (e *BackupError) Is(target error) bool {
	return target == ErrBackup
}

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
