package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/golden"
	"github.com/roach88/dcstats/internal/model"
	"github.com/roach88/dcstats/internal/store"
	"github.com/roach88/dcstats/internal/testutil"
	"github.com/roach88/dcstats/internal/transform"
)

var frozenAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func run(t *testing.T, opts Options) (*artifact.Report, error) {
	t.Helper()
	return New(opts, zaptest.NewLogger(t)).Run(context.Background())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRun_CustomDCGolden(t *testing.T) {
	ctx := context.Background()
	h := golden.New(golden.ModeFromEnv(os.Getenv))
	out := t.TempDir()

	rep, err := run(t, Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: out,
		Mode:      ModeCustomDC,
		Freeze:    true,
		FrozenAt:  frozenAt,
		DumpSQL:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusSuccess, rep.Status)
	assert.Equal(t, 3, rep.Totals.Observations)
	assert.Equal(t, 1, rep.Totals.Triples)

	db := filepath.Join(out, DBFileName)
	actual := filepath.Join(out, "actual")
	_, err = golden.ExportStore(ctx, db, actual)
	require.NoError(t, err)

	expected := filepath.Join("testdata", "customdc", "expected")
	h.CompareDirs(t, actual, expected, "observations.csv", "triples.csv", "key_value_store.csv")
	h.CompareFiles(t, filepath.Join(out, artifact.ReportFileName), filepath.Join(expected, "report.json"), "report")
	h.CompareFiles(t, filepath.Join(out, DumpFileName), filepath.Join(expected, "datacommons.sql"), "sql dump")

	// The dump replays into a store with identical rows.
	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, golden.ReadFullDB(ctx, restored, filepath.Join(out, DumpFileName)))
	replayed := filepath.Join(out, "replayed")
	_, err = golden.ExportStore(ctx, restored, replayed)
	require.NoError(t, err)
	golden.New(golden.ModeVerify).CompareDirs(t, replayed, actual, "observations.csv", "triples.csv", "key_value_store.csv")
}

func TestRun_SchemaIntegrity(t *testing.T) {
	out := t.TempDir()
	_, err := run(t, Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: out,
		Mode:      ModeCustomDC,
	})
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(out, DBFileName))
	require.NoError(t, err)
	defer s.Close()

	tables, err := s.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"key_value_store", "observations", "triples"}, tables)
}

func TestRun_UnknownModeTouchesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	rep, err := run(t, Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: out,
		Mode:      Mode("bulk"),
	})
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, failure.IsConfig(err))
	assert.False(t, exists(out), "output directory must not be created")
}

func TestRun_ConfigErrors(t *testing.T) {
	input := testutil.InputDir(t, map[string]string{"data.csv": "entity,date,v\na,2020,1\n"})
	withConfig := testutil.InputDir(t, map[string]string{"config.json": `{"bogus": true}`})

	tests := []struct {
		name string
		opts Options
	}{
		{"missing input dir", Options{InputDir: filepath.Join(t.TempDir(), "nope")}},
		{"missing config", Options{InputDir: input}},
		{"explicit config missing", Options{InputDir: input, ConfigFile: filepath.Join(input, "other.json")}},
		{"invalid config", Options{InputDir: withConfig}},
		{"no output dir", Options{InputDir: withConfig, ConfigFile: filepath.Join("testdata", "customdc", "input", "config.json"), OutputDir: "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out")
			opts := tt.opts
			opts.Mode = ModeCustomDC
			if opts.OutputDir == "-" {
				opts.OutputDir = ""
			} else {
				opts.OutputDir = out
			}

			_, err := run(t, opts)
			require.Error(t, err)
			assert.True(t, failure.IsConfig(err), "want config error, got %v", err)
			assert.False(t, exists(out), "no output on config errors")

			var se *failure.StageError
			require.True(t, errors.As(err, &se))
			assert.Contains(t, []string{StageValidate, StageLoadConfig}, se.Stage)
		})
	}
}

func TestRun_CustomDCAbortsOnBadRecord(t *testing.T) {
	input := testutil.InputDir(t, map[string]string{
		"config.json": `{}`,
		"good.csv":    "entity,date,v\na,2020,1\n",
		"zbad.csv":    "entity,date,v\nb,2020,2\nc,2021\n",
	})
	out := filepath.Join(t.TempDir(), "out")

	rep, err := run(t, Options{InputDir: input, OutputDir: out, Mode: ModeCustomDC})
	require.Error(t, err)
	assert.True(t, failure.IsValidation(err))

	var se *failure.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageIngest, se.Stage)
	assert.Equal(t, "zbad.csv", se.Artifact)

	var ve *failure.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 2, ve.Index)

	assert.False(t, exists(filepath.Join(out, DBFileName)), "no store on ingest failure")
	require.NotNil(t, rep)
	written, err := artifact.ReadReport(filepath.Join(out, artifact.ReportFileName))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusFailure, written.Status)
	assert.Equal(t, StageIngest, written.Stage)
}

func TestRun_FailedRunKeepsPreviousStore(t *testing.T) {
	ctx := context.Background()
	input := testutil.InputDir(t, map[string]string{
		"config.json": `{}`,
		"a.csv":       "entity,date,v\na,2020,1\n",
	})
	out := t.TempDir()
	opts := Options{InputDir: input, OutputDir: out, Mode: ModeCustomDC}

	_, err := run(t, opts)
	require.NoError(t, err)

	testutil.WriteFiles(t, input, map[string]string{"b.csv": "entity,date,v\n,2020,1\n"})
	_, err = run(t, opts)
	require.Error(t, err)

	s, err := store.Open(filepath.Join(out, DBFileName))
	require.NoError(t, err)
	defer s.Close()
	obs, err := s.ReadObservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Observation{{Entity: "a", Variable: "v", Date: "2020", Value: "1"}}, obs)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	opts := Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: out,
		Mode:      ModeCustomDC,
	}

	for i := 0; i < 2; i++ {
		_, err := run(t, opts)
		require.NoError(t, err)
	}

	s, err := store.Open(filepath.Join(out, DBFileName))
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(ctx, model.TableObservations)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

const mainConfig = `{
  "input_files": {"*.csv": {"provenance": "Census"}},
  "variables": {"Count_Person": {"name": "Population", "group": "Demographics"}},
  "sources": {"Census Bureau": {"url": "https://census.gov", "provenances": {"Census": "https://census.gov/acs"}}},
  "compress_exports": %s
}`

func mainInput(t *testing.T, compress bool) string {
	t.Helper()
	flag := "false"
	if compress {
		flag = "true"
	}
	return testutil.InputDir(t, map[string]string{
		"config.json": fmt.Sprintf(mainConfig, flag),
		"pop.csv":     "entity,date,Count_Person\ngeoId/06,2020,39500000\n,2020,5\ngeoId/48,2020,29100000\n",
	})
}

func TestRun_MainDCSkipsAndExports(t *testing.T) {
	out := t.TempDir()

	rep, err := run(t, Options{InputDir: mainInput(t, false), OutputDir: out, Mode: ModeMainDC})
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Totals.Observations)
	assert.Equal(t, 1, rep.Totals.Skipped)
	require.Len(t, rep.Files, 1)
	assert.Equal(t, 1, rep.Files[0].Skipped)
	assert.Contains(t, rep.Files[0].SkipDetails[0], "pop.csv: record 2")

	for _, table := range model.Tables {
		assert.True(t, exists(filepath.Join(out, table+".csv")), table)
	}

	obs := testutil.ReadFile(t, filepath.Join(out, "observations.csv"))
	assert.Contains(t, obs, "geoId/06,Count_Person,2020,39500000,c/p/1,,,,,\n")

	kvs := testutil.ReadFile(t, filepath.Join(out, "key_value_store.csv"))
	assert.Contains(t, kvs, transform.KeyStatVarGroups+",")
}

func TestRun_MainDCRemovesStaleExports(t *testing.T) {
	out := testutil.WriteFiles(t, t.TempDir(), map[string]string{
		"key_value_store.csv": "lookup_key,value\nstale,1\n",
	})
	input := testutil.InputDir(t, map[string]string{
		"config.json": `{}`,
		"a.csv":       "entity,date,v\na,2020,1\n",
	})

	_, err := run(t, Options{InputDir: input, OutputDir: out, Mode: ModeMainDC})
	require.NoError(t, err)
	assert.False(t, exists(filepath.Join(out, "key_value_store.csv")))

	// The stale golden-style file has no counterpart now.
	expected := testutil.WriteFiles(t, t.TempDir(), map[string]string{
		"key_value_store.csv": "lookup_key,value\nstale,1\n",
	})
	err = golden.Compare(filepath.Join(out, "key_value_store.csv"), filepath.Join(expected, "key_value_store.csv"))
	assert.True(t, failure.IsGoldenMismatch(err))
}

func TestExportGzip_FailureLeavesNoPartialFile(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), DBFileName))
	require.NoError(t, err)
	defer s.Close()

	out := t.TempDir()
	path := filepath.Join(out, model.TableObservations+".csv.gz")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = exportGzip(ctx, s, model.TableObservations, path, clock.NewFixed(frozenAt))
	require.Error(t, err)
	assert.False(t, exists(path))
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, exportGzip(context.Background(), s, model.TableObservations, path, clock.NewFixed(frozenAt)))
	assert.True(t, exists(path))
}

func TestRun_FrozenRunsAreByteIdentical(t *testing.T) {
	input := mainInput(t, true)
	outs := []string{t.TempDir(), t.TempDir()}

	for _, out := range outs {
		_, err := run(t, Options{
			InputDir:  input,
			OutputDir: out,
			Mode:      ModeMainDC,
			Freeze:    true,
			FrozenAt:  frozenAt,
			DumpSQL:   true,
		})
		require.NoError(t, err)
	}

	for _, name := range []string{
		artifact.ReportFileName,
		DumpFileName,
		"observations.csv.gz",
		"triples.csv.gz",
		"key_value_store.csv.gz",
	} {
		assert.NoError(t, golden.Compare(filepath.Join(outs[0], name), filepath.Join(outs[1], name)), name)
	}
}

func TestRun_UnfrozenDiffersOnlyInTimestamps(t *testing.T) {
	input := mainInput(t, false)
	frozenOut, realOut := t.TempDir(), t.TempDir()

	_, err := run(t, Options{InputDir: input, OutputDir: frozenOut, Mode: ModeMainDC, Freeze: true, FrozenAt: frozenAt})
	require.NoError(t, err)

	later := clock.NewFacilityWith(clock.NewFixed(frozenAt.Add(36 * time.Hour)))
	_, err = run(t, Options{InputDir: input, OutputDir: realOut, Mode: ModeMainDC, Clocks: later})
	require.NoError(t, err)

	// Timestamp-free exports match.
	for _, name := range []string{"observations.csv", "triples.csv"} {
		assert.NoError(t, golden.Compare(filepath.Join(realOut, name), filepath.Join(frozenOut, name)), name)
	}
	// The group blob embeds a gzip header time.
	assert.Error(t, golden.Compare(filepath.Join(realOut, "key_value_store.csv"), filepath.Join(frozenOut, "key_value_store.csv")))

	a, err := artifact.ReadReport(filepath.Join(frozenOut, artifact.ReportFileName))
	require.NoError(t, err)
	b, err := artifact.ReadReport(filepath.Join(realOut, artifact.ReportFileName))
	require.NoError(t, err)
	assert.NotEqual(t, a.StartTime, b.StartTime)
	for _, r := range []*artifact.Report{a, b} {
		r.RunID, r.StartTime, r.EndTime = "", "", ""
	}
	assert.Equal(t, a, b)
}

func TestRun_FreezeIsRestored(t *testing.T) {
	facility := clock.NewFacility()

	_, err := run(t, Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: t.TempDir(),
		Mode:      ModeCustomDC,
		Freeze:    true,
		FrozenAt:  frozenAt,
		Clocks:    facility,
	})
	require.NoError(t, err)
	_, frozen := facility.Frozen()
	assert.False(t, frozen)

	// Also after a failed run.
	_, err = run(t, Options{
		InputDir:  filepath.Join(t.TempDir(), "missing"),
		OutputDir: t.TempDir(),
		Mode:      ModeCustomDC,
		Freeze:    true,
		FrozenAt:  frozenAt,
		Clocks:    facility,
	})
	require.Error(t, err)
	_, frozen = facility.Frozen()
	assert.False(t, frozen)
}

func TestRun_TimingIgnoresFreeze(t *testing.T) {
	base := testutil.NewSteppingClock(frozenAt.Add(time.Hour), time.Millisecond)

	rep, err := run(t, Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: t.TempDir(),
		Mode:      ModeCustomDC,
		Freeze:    true,
		FrozenAt:  frozenAt,
		Clocks:    clock.NewFacilityWith(base),
	})
	require.NoError(t, err)

	assert.Equal(t, "2023-01-01T00:00:00Z", rep.StartTime, "report reads the frozen clock")
	assert.Greater(t, base.Reads(), 0, "stage timing reads the real clock")
}

func TestRun_SchemaUpdate(t *testing.T) {
	out := t.TempDir()
	dbPath := filepath.Join(out, DBFileName)

	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE observations (entity TEXT, variable TEXT, date TEXT, value TEXT)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO observations VALUES ('a', 'v', '2020', '1')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	rep, err := run(t, Options{OutputDir: out, Mode: ModeSchemaUpdate})
	require.NoError(t, err)
	assert.Equal(t, store.CurrentSchemaVersion, rep.SchemaVersion)
	assert.Equal(t, 1, rep.Totals.Observations)
	assert.True(t, exists(filepath.Join(out, artifact.ReportFileName)))
}

func TestRun_SchemaUpdateWithoutStore(t *testing.T) {
	out := t.TempDir()

	_, err := run(t, Options{OutputDir: out, Mode: ModeSchemaUpdate})
	require.Error(t, err)
	assert.True(t, failure.IsConfig(err))
	assert.False(t, exists(filepath.Join(out, DBFileName)))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{
		InputDir:  filepath.Join("testdata", "customdc", "input"),
		OutputDir: t.TempDir(),
		Mode:      ModeCustomDC,
	}, zaptest.NewLogger(t)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
