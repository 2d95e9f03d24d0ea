package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/testutil"
)

func TestReport_FrozenIsReproducible(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) []byte {
		r := NewReport("customdc", clock.NewFixed(frozen))
		r.AddFile(FileReport{Name: "a.csv", Format: "wide", Rows: 2, Observations: 2}, nil)
		r.Totals.Observations = 2
		r.Succeed()
		p := filepath.Join(dir, name)
		require.NoError(t, r.WriteFile(p))
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, write("one.json"), write("two.json"))
}

func TestReport_TimesComeFromClock(t *testing.T) {
	c := testutil.NewSteppingClock(frozen, time.Minute)
	r := NewReport("maindc", c)
	r.Succeed()

	assert.Equal(t, "2023-01-01T00:00:00Z", r.StartTime)
	assert.Equal(t, "2023-01-01T00:01:00Z", r.EndTime)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, 2, c.Reads())
}

func TestReport_RunIDDerivedFromStart(t *testing.T) {
	a := NewReport("customdc", clock.NewFixed(frozen))
	b := NewReport("customdc", clock.NewFixed(frozen))
	c := NewReport("maindc", clock.NewFixed(frozen))

	assert.Equal(t, a.RunID, b.RunID)
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestReport_Fail(t *testing.T) {
	r := NewReport("customdc", clock.NewFixed(frozen))
	r.Fail("ingest", errors.New("bad.csv: record 3: boom"))

	path := filepath.Join(t.TempDir(), ReportFileName)
	require.NoError(t, r.WriteFile(path))

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, got.Status)
	assert.Equal(t, "ingest", got.Stage)
	assert.Equal(t, "bad.csv: record 3: boom", got.Error)
}

func TestReport_SkipDetailsCapped(t *testing.T) {
	r := NewReport("maindc", clock.NewFixed(frozen))
	var msgs []string
	for i := 0; i < 25; i++ {
		msgs = append(msgs, "record "+strconv.Itoa(i+1))
	}
	r.AddFile(FileReport{Name: "x.csv"}, msgs)

	require.Len(t, r.Files, 1)
	assert.Equal(t, 25, r.Files[0].Skipped)
	assert.Len(t, r.Files[0].SkipDetails, maxSkipDetails)
	assert.Equal(t, 25, r.Totals.Skipped)
}
