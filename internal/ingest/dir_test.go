package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/testutil"
)

func testConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc), config.SyntaxYAML)
	require.NoError(t, err)
	return cfg
}

func TestListInputs(t *testing.T) {
	dir := testutil.InputDir(t, map[string]string{
		"b.csv":       "x",
		"a.CSV":       "x",
		"config.json": "{}",
		"sub/c.csv":   "x",
	})

	names, err := ListInputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.CSV", "b.csv"}, names)
}

func TestListInputs_MissingDir(t *testing.T) {
	_, err := ListInputs(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, failure.IsConfig(err))
}

func TestReadDir_PreservesFileOrder(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("f%02d.csv", i)] = fmt.Sprintf("entity,date,v\ne%d,2020,%d\n", i, i)
	}
	dir := testutil.InputDir(t, files)
	cfg := testConfig(t, `{}`)

	results, err := ReadDir(context.Background(), dir, cfg, Options{
		Policy:  Abort,
		Workers: 8,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("f%02d.csv", i), r.File)
		assert.Equal(t, fmt.Sprintf("e%d", i), r.Observations[0].Entity)
	}
}

func TestReadDir_ConfigDrivesFormatAndProvenance(t *testing.T) {
	dir := testutil.InputDir(t, map[string]string{
		"facts.csv": "subject_id,predicate,object_id,object_value\nx,name,,X\n",
		"pop.csv":   "entity,date,Count_Person\nx,2020,1\n",
	})
	cfg := testConfig(t, `{
  "input_files": {
    "facts.csv": {"format": "triples"},
    "*.csv": {"provenance": "Census"}
  },
  "sources": {"Census Bureau": {"provenances": {"Census": "https://census.gov"}}}
}`)

	results, err := ReadDir(context.Background(), dir, cfg, Options{
		Provenance: func(name string) string { return "prov:" + name },
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, config.FormatTriples, results[0].Format)
	assert.Len(t, results[0].Triples, 1)
	assert.Equal(t, "prov:Census", results[1].Observations[0].Provenance)
}

func TestReadDir_FailureNamesFile(t *testing.T) {
	dir := testutil.InputDir(t, map[string]string{
		"good.csv": "entity,date,v\na,2020,1\n",
		"bad.csv":  "entity,date,v\na,2020\n",
	})

	_, err := ReadDir(context.Background(), dir, testConfig(t, `{}`), Options{Policy: Abort})
	require.Error(t, err)

	var se *failure.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ingest", se.Stage)
	assert.Equal(t, "bad.csv", se.Artifact)
	assert.True(t, failure.IsValidation(err))
	assert.True(t, strings.Contains(err.Error(), "record 1"), err.Error())
}

func TestReadDir_Empty(t *testing.T) {
	dir := testutil.InputDir(t, map[string]string{"config.json": "{}"})

	results, err := ReadDir(context.Background(), dir, testConfig(t, `{}`), Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
