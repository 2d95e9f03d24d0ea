package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/dcstats/internal/clock"
)

// ReportFileName is the report written into the output directory.
const ReportFileName = "report.json"

// Run statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// maxSkipDetails caps the skipped-record messages kept per file.
const maxSkipDetails = 10

// runNamespace scopes run ids.
var runNamespace = uuid.MustParse("8f2b6a3e-4c1d-5e7f-9a0b-1c2d3e4f5a6b")

// Report summarizes one run. Times are RFC 3339 UTC strings taken from the
// report's clock.
type Report struct {
	RunID     string       `json:"run_id"`
	Status    string       `json:"status"`
	Mode      string       `json:"mode"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time,omitempty"`
	Stage     string       `json:"failed_stage,omitempty"`
	Error     string       `json:"error,omitempty"`
	Files     []FileReport `json:"files"`
	Totals    Totals       `json:"totals"`

	SchemaVersion int `json:"schema_version,omitempty"`

	clock clock.Clock
}

// FileReport summarizes one input file.
type FileReport struct {
	Name         string   `json:"name"`
	Format       string   `json:"format"`
	Rows         int      `json:"rows"`
	Observations int      `json:"observations"`
	Triples      int      `json:"triples"`
	Skipped      int      `json:"skipped"`
	SkipDetails  []string `json:"skip_details,omitempty"`
}

// Totals are the record counts persisted by the run.
type Totals struct {
	Observations int `json:"observations"`
	Triples      int `json:"triples"`
	KeyValues    int `json:"key_values"`
	Skipped      int `json:"skipped"`
}

// NewReport starts a report. The run id is derived from the mode and start
// time, so a frozen run always gets the same id.
func NewReport(mode string, c clock.Clock) *Report {
	start := c.Now().UTC()
	id := uuid.NewSHA1(runNamespace, []byte(mode+"@"+start.Format(time.RFC3339Nano)))
	return &Report{
		RunID:     id.String(),
		Status:    StatusFailure,
		Mode:      mode,
		StartTime: start.Format(time.RFC3339),
		Files:     []FileReport{},
		clock:     c,
	}
}

// AddFile records one input file. Only the first few skip messages are
// kept; Skipped always has the full count.
func (r *Report) AddFile(f FileReport, skipped []string) {
	f.Skipped = len(skipped)
	if len(skipped) > maxSkipDetails {
		skipped = skipped[:maxSkipDetails]
	}
	f.SkipDetails = skipped
	r.Files = append(r.Files, f)
	r.Totals.Skipped += f.Skipped
}

// Succeed marks the run successful and stamps the end time.
func (r *Report) Succeed() {
	r.Status = StatusSuccess
	r.EndTime = r.clock.Now().UTC().Format(time.RFC3339)
}

// Fail marks the run failed in stage and stamps the end time.
func (r *Report) Fail(stage string, err error) {
	r.Status = StatusFailure
	r.Stage = stage
	if err != nil {
		r.Error = err.Error()
	}
	r.EndTime = r.clock.Now().UTC().Format(time.RFC3339)
}

// WriteFile writes the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	err = WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// ReadReport loads a report written by WriteFile.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
