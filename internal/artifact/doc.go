// Package artifact writes the derived files of a run: gzip-compressed
// exports and the run report.
//
// Both kinds embed timestamps, and both take them from an injected
// clock.Clock, never from the system clock. Under a frozen clock the
// artifacts are byte-reproducible.
package artifact
