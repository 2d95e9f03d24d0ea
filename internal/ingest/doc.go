// Package ingest reads the CSV files of an input directory into model
// records.
//
// Three layouts are understood, selected per file by its config entry:
//
//   - wide: entity, date, then one column per variable; every non-empty
//     cell is an observation
//   - long: one observation per row, columns named after
//     model.ObservationFields (entity, variable, date and value required)
//   - triples: columns subject_id, predicate, object_id, object_value
//
// Files are read concurrently but ReadDir always returns them in file
// name order, so the record order of a run does not depend on scheduling.
//
// Bad records are handled by Policy: Abort returns the first
// failure.ValidationError, Skip records it on the file's result and moves
// on. Header problems are fatal under either policy.
package ingest
