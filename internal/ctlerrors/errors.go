// Package ctlerrors defines the error kinds shared across the fleet
// controller's APIs. Every RPC boundary collapses an error down to one of
// these kinds plus a message; no stack traces cross the wire.
package ctlerrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrX) to attach context;
// unwrap with errors.Is/Kind.
var (
	// ErrNotFound means no record matches the lookup.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or invariant violation.
	ErrConflict = errors.New("conflict")
	// ErrManyFound means a lookup expected to be unique matched more than one row.
	ErrManyFound = errors.New("many found")
	// ErrIgnore is an expected short-circuit during discovery or a stage
	// check; callers must not mutate server status in response to it.
	ErrIgnore = errors.New("ignore")
	// ErrInvalidData means operator input was rejected.
	ErrInvalidData = errors.New("invalid data")
	// ErrProvisionIncomplete means the provisioning back-end hasn't finished;
	// the state machine routes this to a *WithErrors status once retries are exhausted.
	ErrProvisionIncomplete = errors.New("provision incomplete")
	// ErrExec wraps a non-zero subprocess exit.
	ErrExec = errors.New("exec error")
	// ErrVersionConflict means an optimistic write lost a race.
	ErrVersionConflict = errors.New("version conflict")
)

// Kind returns the name of the first sentinel kind err wraps, or "" if err
// doesn't wrap one of ours.
func Kind(err error) string {
	for _, s := range []struct {
		err  error
		name string
	}{
		{ErrNotFound, "NotFound"},
		{ErrConflict, "Conflict"},
		{ErrManyFound, "ManyFound"},
		{ErrIgnore, "Ignore"},
		{ErrInvalidData, "InvalidData"},
		{ErrProvisionIncomplete, "ProvisionIncomplete"},
		{ErrExec, "ExecError"},
		{ErrVersionConflict, "VersionConflict"},
	} {
		if errors.Is(err, s.err) {
			return s.name
		}
	}

	return ""
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict wraps ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// ManyFound wraps ErrManyFound with a formatted message.
func ManyFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrManyFound)
}

// Ignore wraps ErrIgnore with a formatted message.
func Ignore(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrIgnore)
}

// InvalidData wraps ErrInvalidData with a formatted message.
func InvalidData(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidData)
}

// ProvisionIncomplete wraps ErrProvisionIncomplete with a formatted message.
func ProvisionIncomplete(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrProvisionIncomplete)
}

// Exec wraps ErrExec with the sanitized subprocess output.
func Exec(exitCode int, stdout string) error {
	return fmt.Errorf("exit %d: %s: %w", exitCode, stdout, ErrExec)
}

// VersionConflict wraps ErrVersionConflict for the given id.
func VersionConflict(id int64) error {
	return fmt.Errorf("id=%d: %w", id, ErrVersionConflict)
}
