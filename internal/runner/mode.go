package runner

import (
	"strings"

	"github.com/roach88/dcstats/internal/failure"
)

// Mode selects what a run does.
type Mode string

const (
	// ModeCustomDC ingests the input directory into the store.
	// Record policy: abort. The first bad record fails the run.
	ModeCustomDC Mode = "customdc"

	// ModeMainDC ingests like ModeCustomDC and also exports every
	// non-empty table as CSV.
	// Record policy: skip-and-count. Bad records are dropped and reported
	// per file in report.json.
	ModeMainDC Mode = "maindc"

	// ModeSchemaUpdate migrates an existing store in the output directory
	// to the current schema version. It reads no input files.
	ModeSchemaUpdate Mode = "schemaupdate"
)

// Modes lists every mode.
func Modes() []Mode {
	return []Mode{ModeCustomDC, ModeMainDC, ModeSchemaUpdate}
}

// ParseMode parses a mode name. Case, underscores and dashes are ignored,
// so "CUSTOM_DC" and "customdc" are the same mode.
func ParseMode(s string) (Mode, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(strings.TrimSpace(s)))
	for _, m := range Modes() {
		if string(m) == norm {
			return m, nil
		}
	}
	return "", failure.WithHint(failure.Configf("unknown mode %q", s),
		"valid modes: customdc, maindc, schemaupdate")
}

func (m Mode) String() string { return string(m) }
