package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/ingest"
	"github.com/roach88/dcstats/internal/model"
	"github.com/roach88/dcstats/internal/store"
	"github.com/roach88/dcstats/internal/transform"
)

// stage is one step of a plan.
type stage struct {
	name string
	run  func(ctx context.Context, st *runState) error
}

// plan is the fixed stage sequence of a mode.
type plan struct {
	mode   Mode
	policy ingest.Policy
	stages []stage
}

// planFor is the single dispatch point from mode to pipeline. Every Mode
// constant has a case; anything else is a config error.
func (r *Runner) planFor(m Mode) (*plan, error) {
	switch m {
	case ModeCustomDC:
		return &plan{mode: m, policy: ingest.Abort, stages: []stage{
			{StageValidate, r.validateInputs},
			{StageLoadConfig, r.loadConfig},
			{StageIngest, r.ingest},
			{StageTransform, r.transform},
			{StagePersist, r.persist},
			{StageDump, r.dump},
			{StageReport, r.writeReport},
		}}, nil
	case ModeMainDC:
		return &plan{mode: m, policy: ingest.Skip, stages: []stage{
			{StageValidate, r.validateInputs},
			{StageLoadConfig, r.loadConfig},
			{StageIngest, r.ingest},
			{StageTransform, r.transform},
			{StagePersist, r.persist},
			{StageExport, r.export},
			{StageDump, r.dump},
			{StageReport, r.writeReport},
		}}, nil
	case ModeSchemaUpdate:
		return &plan{mode: m, policy: ingest.Abort, stages: []stage{
			{StageValidate, r.validateStore},
			{StageMigrate, r.migrate},
			{StageReport, r.writeReport},
		}}, nil
	}
	return nil, failure.WithHint(failure.Configf("unknown mode %q", string(m)),
		"valid modes: customdc, maindc, schemaupdate")
}

// validateInputs checks the directories and config path without touching
// any output.
func (r *Runner) validateInputs(_ context.Context, _ *runState) error {
	if err := requireDir(r.opts.InputDir, "input directory"); err != nil {
		return failure.InStage(StageValidate, r.opts.InputDir, err)
	}
	info, err := os.Stat(r.opts.ConfigFile)
	if err != nil {
		return failure.InStage(StageValidate, r.opts.ConfigFile,
			failure.WithHint(failure.Config(err, "config file"),
				"pass --config_file or place a config.json in the input directory"))
	}
	if info.IsDir() {
		return failure.InStage(StageValidate, r.opts.ConfigFile,
			failure.Configf("config file %s is a directory", r.opts.ConfigFile))
	}
	return r.checkOutputDir()
}

// validateStore checks that there is a store to migrate.
func (r *Runner) validateStore(_ context.Context, st *runState) error {
	if err := r.checkOutputDir(); err != nil {
		return err
	}
	if _, err := os.Stat(r.DBPath()); err != nil {
		return failure.InStage(StageValidate, r.DBPath(), failure.Config(err, "no store to update"))
	}
	st.configLoaded = true
	return nil
}

func (r *Runner) checkOutputDir() error {
	if r.opts.OutputDir == "" {
		return failure.InStage(StageValidate, "", failure.Configf("output directory is required"))
	}
	info, err := os.Stat(r.opts.OutputDir)
	if err == nil && !info.IsDir() {
		return failure.InStage(StageValidate, r.opts.OutputDir,
			failure.Configf("output path %s is not a directory", r.opts.OutputDir))
	}
	return nil
}

func requireDir(path, what string) error {
	if path == "" {
		return failure.Configf("%s is required", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return failure.Config(err, what)
	}
	if !info.IsDir() {
		return failure.Configf("%s %s is not a directory", what, path)
	}
	return nil
}

func (r *Runner) loadConfig(_ context.Context, st *runState) error {
	cfg, err := config.Load(r.opts.ConfigFile)
	if err != nil {
		return failure.InStage(StageLoadConfig, r.opts.ConfigFile, err)
	}
	st.cfg = cfg
	st.ids = transform.AssignIDs(cfg)
	st.configLoaded = true
	return nil
}

func (r *Runner) ingest(ctx context.Context, st *runState) error {
	files, err := ingest.ReadDir(ctx, r.opts.InputDir, st.cfg, ingest.Options{
		Policy:     st.plan.policy,
		Workers:    st.cfg.Workers,
		Provenance: st.ids.Provenance,
		Logger:     r.log,
	})
	if err != nil {
		var se *failure.StageError
		if errors.As(err, &se) {
			return err
		}
		return failure.InStage(StageIngest, r.opts.InputDir, err)
	}

	for _, f := range files {
		var skipped []string
		for _, ve := range f.Skipped {
			skipped = append(skipped, ve.Error())
		}
		if len(skipped) > 0 {
			r.log.Warn("skipped bad records",
				zap.String("file", f.File),
				zap.Int("count", len(skipped)))
		}
		st.report.AddFile(artifact.FileReport{
			Name:         f.File,
			Format:       f.Format,
			Rows:         f.Rows,
			Observations: len(f.Observations),
			Triples:      len(f.Triples),
		}, skipped)
	}
	st.files = files
	return nil
}

func (r *Runner) transform(_ context.Context, st *runState) error {
	t := transform.New(st.cfg, st.ids, r.clocks.For(ComponentArtifacts))
	recs, err := t.Records(st.files)
	if err != nil {
		return failure.InStage(StageTransform, "", err)
	}
	if err := recs.Validate(); err != nil {
		return failure.InStage(StageTransform, "", err)
	}
	st.recs = recs
	return nil
}

func (r *Runner) persist(ctx context.Context, st *runState) error {
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return failure.InStage(StagePersist, r.opts.OutputDir,
			failure.StoreUnavailable(err, "create output directory"))
	}

	err := r.withStore(func(s *store.Store) error {
		return s.Persist(ctx, st.recs)
	})
	if err != nil {
		return failure.InStage(StagePersist, r.DBPath(), err)
	}

	st.report.Totals.Observations = len(st.recs.Observations)
	st.report.Totals.Triples = len(st.recs.Triples)
	st.report.Totals.KeyValues = len(st.recs.KeyValues)
	r.log.Info("records persisted",
		zap.String("db", r.DBPath()),
		zap.Int("observations", len(st.recs.Observations)),
		zap.Int("triples", len(st.recs.Triples)),
		zap.Int("key_values", len(st.recs.KeyValues)))
	return nil
}

// export writes <table>.csv (or .csv.gz) for every non-empty table and
// removes exports of empty tables left by earlier runs.
func (r *Runner) export(ctx context.Context, st *runState) error {
	gzClock := r.clocks.For(ComponentArtifacts)
	return r.withStore(func(s *store.Store) error {
		for _, table := range model.Tables {
			plain := filepath.Join(r.opts.OutputDir, table+".csv")
			gz := plain + ".gz"
			for _, stale := range []string{plain, gz} {
				if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
					return failure.InStage(StageExport, stale, err)
				}
			}

			n, err := s.Count(ctx, table)
			if err != nil {
				return failure.InStage(StageExport, table, err)
			}
			if n == 0 {
				continue
			}

			if !st.cfg.CompressExports {
				if err := s.ExportTableCSV(ctx, table, plain); err != nil {
					return failure.InStage(StageExport, plain, err)
				}
				continue
			}
			if err := exportGzip(ctx, s, table, gz, gzClock); err != nil {
				return failure.InStage(StageExport, gz, err)
			}
		}
		return nil
	})
}

func exportGzip(ctx context.Context, s *store.Store, table, path string, c clock.Clock) error {
	return artifact.WriteFileAtomic(path, 0o644, func(f io.Writer) error {
		w := artifact.NewGzipWriter(f, c)
		if err := s.ExportTableCSVTo(ctx, table, w); err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close gzip %s: %w", path, err)
		}
		return nil
	})
}

func (r *Runner) dump(ctx context.Context, _ *runState) error {
	if !r.opts.DumpSQL {
		return nil
	}
	path := filepath.Join(r.opts.OutputDir, DumpFileName)
	err := r.withStore(func(s *store.Store) error {
		return s.DumpToFile(ctx, path)
	})
	if err != nil {
		return failure.InStage(StageDump, path, err)
	}
	return nil
}

func (r *Runner) migrate(ctx context.Context, st *runState) error {
	err := r.withStore(func(s *store.Store) error {
		version, err := s.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		st.report.SchemaVersion = version
		for _, table := range model.Tables {
			n, err := s.Count(ctx, table)
			if err != nil {
				return err
			}
			switch table {
			case model.TableObservations:
				st.report.Totals.Observations = n
			case model.TableTriples:
				st.report.Totals.Triples = n
			case model.TableKeyValueStore:
				st.report.Totals.KeyValues = n
			}
		}
		return nil
	})
	if err != nil {
		return failure.InStage(StageMigrate, r.DBPath(), err)
	}
	r.log.Info("store migrated", zap.String("db", r.DBPath()), zap.Int("schema_version", st.report.SchemaVersion))
	return nil
}

func (r *Runner) writeReport(_ context.Context, st *runState) error {
	st.report.Succeed()
	path := filepath.Join(r.opts.OutputDir, artifact.ReportFileName)
	if err := st.report.WriteFile(path); err != nil {
		return failure.InStage(StageReport, path, err)
	}
	return nil
}

// withStore scopes a store connection to fn.
func (r *Runner) withStore(fn func(s *store.Store) error) error {
	s, err := store.Open(r.DBPath())
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Close()
		return err
	}
	if err := s.Close(); err != nil {
		return failure.StoreUnavailable(err, "close store")
	}
	return nil
}
