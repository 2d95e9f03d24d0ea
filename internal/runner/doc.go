// Package runner sequences a dcstats run.
//
// A run is one linear pipeline chosen by its Mode:
//
//	validate -> load-config -> ingest -> transform -> persist -> [export] -> [dump] -> report
//
// There is no branching back and no partial success: the first stage to
// fail ends the run. Records are fully materialized in memory before the
// persist stage writes them, and persist replaces all three tables in one
// transaction, so a failed run never leaves a half-written store.
//
// Errors surfaced by Run are *failure.StageError values naming the stage
// and input artifact; the category (failure.ErrConfig,
// failure.ErrValidation, failure.ErrStoreUnavailable) is preserved
// underneath. Config errors are always raised before any output is
// touched.
//
// Every timestamp a run emits comes from the clock.Facility in Options.
// With Options.Freeze the facility is frozen for the duration of Run and
// restored before Run returns, whatever the outcome.
package runner
