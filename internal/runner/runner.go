package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/ingest"
	"github.com/roach88/dcstats/internal/model"
	"github.com/roach88/dcstats/internal/transform"
)

// Output file names.
const (
	DBFileName   = "datacommons.db"
	DumpFileName = "datacommons.sql"
)

// Clock components. Each names the consumer a clock is handed to, and is
// what a freeze ignore list refers to.
const (
	ComponentRunner    = "runner"
	ComponentArtifacts = "artifacts"
	ComponentTiming    = "timing"
)

// DefaultFreezeIgnore keeps stage timing on the real clock; durations
// measured against a frozen clock are always zero.
var DefaultFreezeIgnore = []string{ComponentTiming}

// Stage names.
const (
	StageValidate   = "validate"
	StageLoadConfig = "load-config"
	StageIngest     = "ingest"
	StageTransform  = "transform"
	StagePersist    = "persist"
	StageExport     = "export"
	StageDump       = "dump"
	StageMigrate    = "migrate"
	StageReport     = "report"
)

// Options are the inputs of one run.
type Options struct {
	// ConfigFile defaults to <InputDir>/config.json.
	ConfigFile string
	InputDir   string
	OutputDir  string
	Mode       Mode

	// Freeze pins every clock read during the run to FrozenAt, except for
	// the components in FreezeIgnore (DefaultFreezeIgnore when nil).
	Freeze       bool
	FrozenAt     time.Time
	FreezeIgnore []string

	// DumpSQL also writes the store interchange dump to DumpFileName.
	DumpSQL bool

	// Clocks defaults to a facility on the system clock.
	Clocks *clock.Facility
}

// Runner executes runs.
type Runner struct {
	opts   Options
	log    *zap.Logger
	clocks *clock.Facility
}

// New creates a runner. A nil logger discards output.
func New(opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	clocks := opts.Clocks
	if clocks == nil {
		clocks = clock.NewFacility()
	}
	if opts.ConfigFile == "" && opts.InputDir != "" {
		opts.ConfigFile = filepath.Join(opts.InputDir, config.DefaultFileName)
	}
	if opts.FreezeIgnore == nil {
		opts.FreezeIgnore = DefaultFreezeIgnore
	}
	return &Runner{opts: opts, log: log, clocks: clocks}
}

// DBPath is where the run writes its store.
func (r *Runner) DBPath() string {
	return filepath.Join(r.opts.OutputDir, DBFileName)
}

// runState carries stage outputs down the pipeline.
type runState struct {
	plan   *plan
	cfg    *config.Config
	ids    *transform.IDs
	files  []*ingest.FileRecords
	recs   *model.Records
	report *artifact.Report

	// configLoaded gates failure reports: nothing is written before the
	// config has been accepted.
	configLoaded bool
}

// Run executes the pipeline of the configured mode. The report is returned
// on success and, when one was produced, on failure.
func (r *Runner) Run(ctx context.Context) (*artifact.Report, error) {
	p, err := r.planFor(r.opts.Mode)
	if err != nil {
		return nil, failure.InStage(StageValidate, "", err)
	}

	if r.opts.Freeze {
		restore := r.clocks.Freeze(r.opts.FrozenAt, r.opts.FreezeIgnore...)
		defer restore()
		r.log.Info("running with time frozen",
			zap.Time("at", r.opts.FrozenAt),
			zap.Strings("ignore", r.opts.FreezeIgnore))
	}

	st := &runState{
		plan:   p,
		report: artifact.NewReport(p.mode.String(), r.clocks.For(ComponentRunner)),
	}
	timing := r.clocks.For(ComponentTiming)

	r.log.Info("run starting",
		zap.String("mode", p.mode.String()),
		zap.String("config_file", r.opts.ConfigFile),
		zap.String("input_dir", r.opts.InputDir),
		zap.String("output_dir", r.opts.OutputDir),
		zap.String("record_policy", p.policy.String()))

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return r.fail(st, s.name, failure.InStage(s.name, "", err))
		}
		start := timing.Now()
		if err := s.run(ctx, st); err != nil {
			var se *failure.StageError
			if !errors.As(err, &se) {
				err = failure.InStage(s.name, "", err)
			}
			return r.fail(st, s.name, err)
		}
		r.log.Debug("stage complete",
			zap.String("stage", s.name),
			zap.Duration("duration", timing.Now().Sub(start)))
	}

	r.log.Info("run complete",
		zap.Int("observations", st.report.Totals.Observations),
		zap.Int("triples", st.report.Totals.Triples),
		zap.Int("key_values", st.report.Totals.KeyValues),
		zap.Int("skipped", st.report.Totals.Skipped))
	return st.report, nil
}

// fail records err in a FAILURE report when the config had been accepted.
func (r *Runner) fail(st *runState, stage string, err error) (*artifact.Report, error) {
	r.log.Error("run failed", zap.String("stage", stage), zap.Error(err))
	if !st.configLoaded {
		return nil, err
	}

	st.report.Fail(stage, err)
	if mkErr := os.MkdirAll(r.opts.OutputDir, 0o755); mkErr != nil {
		r.log.Warn("cannot write failure report", zap.Error(mkErr))
		return st.report, err
	}
	if wErr := st.report.WriteFile(filepath.Join(r.opts.OutputDir, artifact.ReportFileName)); wErr != nil {
		r.log.Warn("cannot write failure report", zap.Error(wErr))
	}
	return st.report, err
}
