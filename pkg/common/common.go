package common

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a referenced article, story or
// snapshot does not exist. It usually means the row was deleted by an
// administrator between a read and a write.
var ErrNotFound = errors.New("not found")

// ErrAlreadyClustered is returned by stores when an article that was expected
// to be unclustered already carries a story reference at write time.
var ErrAlreadyClustered = errors.New("article already clustered")

// PersistenceError wraps a failed write (attach, create, upsert, purge).
// Callers decide on retry policy.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it is nil, already a
// PersistenceError, or a sentinel that callers need to match on directly.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyClustered) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &PersistenceError{Op: op, Err: err}
}

// ConfigError reports an invalid configuration value. It is raised at startup
// by Validate methods, never per call.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
