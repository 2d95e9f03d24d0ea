// Package failure defines the error taxonomy shared by every dcstats layer.
//
// Lower layers (model validators, the store adapter, config loading) return
// errors marked with one of the sentinel categories below. Only the runner
// decides whether a failure aborts the run or is skipped and counted.
//
//	err := store.Open(path)            // marked ErrStoreUnavailable
//	errors.Is(err, failure.ErrStoreUnavailable) == true
//
// Marking uses github.com/cockroachdb/errors so the category survives any
// amount of wrapping with context.
package failure

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error categories. Use errors.Is against these.
var (
	// ErrConfig covers bad or missing config, unknown modes and unreadable
	// directories. Always fatal, reported before any output is mutated.
	ErrConfig = errors.New("config error")

	// ErrValidation covers records that break the data model invariants.
	ErrValidation = errors.New("validation error")

	// ErrStoreUnavailable covers I/O failures opening or writing the store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrGoldenMismatch is raised by the verification harness only.
	ErrGoldenMismatch = errors.New("golden mismatch")
)

// Config marks err as a configuration failure and adds msg as context.
// A nil err produces a fresh marked error carrying msg.
func Config(err error, msg string) error {
	if err == nil {
		return errors.Mark(errors.New(msg), ErrConfig)
	}
	return errors.Mark(errors.Wrap(err, msg), ErrConfig)
}

// Configf is Config with formatting and no cause.
func Configf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfig)
}

// StoreUnavailable marks err as a store I/O failure.
func StoreUnavailable(err error, msg string) error {
	if err == nil {
		return errors.Mark(errors.New(msg), ErrStoreUnavailable)
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStoreUnavailable)
}

// GoldenMismatchf reports a verification failure.
func GoldenMismatchf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrGoldenMismatch)
}

// IsConfig reports whether err is (or wraps) a configuration failure.
func IsConfig(err error) bool { return errors.Is(err, ErrConfig) }

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStoreUnavailable reports whether err is (or wraps) a store failure.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// IsGoldenMismatch reports whether err is (or wraps) a golden mismatch.
func IsGoldenMismatch(err error) bool { return errors.Is(err, ErrGoldenMismatch) }

// ValidationError describes one record that violates the data model.
//
// Index is the 1-based position of the record within its artifact (the data
// row number for CSV inputs, the slice position otherwise). Zero means the
// position is unknown.
type ValidationError struct {
	Artifact string
	Index    int
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	switch {
	case e.Artifact != "" && e.Index > 0:
		return fmt.Sprintf("%s: record %d: %s", e.Artifact, e.Index, msg)
	case e.Index > 0:
		return fmt.Sprintf("record %d: %s", e.Index, msg)
	case e.Artifact != "":
		return fmt.Sprintf("%s: %s", e.Artifact, msg)
	}
	return msg
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field with the given reason.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// At returns a copy of e positioned at index within artifact.
func (e *ValidationError) At(artifact string, index int) *ValidationError {
	cp := *e
	if artifact != "" {
		cp.Artifact = artifact
	}
	if index > 0 {
		cp.Index = index
	}
	return &cp
}

// StageError identifies the pipeline stage and input artifact of a fatal
// run failure. The wrapped error keeps its category.
type StageError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *StageError) Error() string {
	if e.Artifact != "" {
		return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Artifact, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InStage wraps err with the stage it failed in. A nil err stays nil.
func InStage(stage, artifact string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Artifact: artifact, Err: err}
}

// Hints returns the user-facing hints attached anywhere in err's chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}

// WithHint attaches a user-facing hint to err.
func WithHint(err error, hint string) error {
	return errors.WithHint(err, hint)
}
