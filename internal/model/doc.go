// Package model defines the canonical records a dcstats run produces.
//
// There are exactly three record kinds, one per store table:
//
//   - Observation: one statistical datapoint (entity, variable, date, value
//     plus fixed metadata columns)
//   - Triple: a subject/predicate/object fact about an entity, variable,
//     provenance or group
//   - KeyValue: an opaque lookup entry
//
// Records are positional. The field order declared here is the column order
// of the store tables and of every CSV export, and it is a schema-level
// contract: changing a field list requires a store schema version bump.
//
// Observations and Triples share one identifier space: an Observation's
// entity, variable and provenance values are the subject ids Triples
// describe.
package model
