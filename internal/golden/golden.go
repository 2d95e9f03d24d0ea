// Package golden verifies produced artifacts against recorded goldens.
//
// A Harness runs in one of two modes. In ModeVerify it asserts that each
// produced file matches its golden. In ModeWrite it records the produced
// file as the new golden instead. Both modes take the same production path
// and differ only in the final assertion, so regenerating goldens runs the
// code that verifying them does.
//
// The mode is chosen once, when the Harness is built:
//
//	h := golden.New(golden.ModeFromEnv(os.Getenv))
//	h.CompareFiles(t, got, "testdata/expected/observations.csv", "observations")
//
// Regenerate goldens with:
//
//	TEST_MODE=write go test ./...
package golden

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dcstats/internal/failure"
)

// EnvVar selects the harness mode in test binaries.
const EnvVar = "TEST_MODE"

// Mode is verify or write.
type Mode int

const (
	ModeVerify Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "verify"
}

// ParseMode maps "write" to ModeWrite and anything else to ModeVerify.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "write") {
		return ModeWrite
	}
	return ModeVerify
}

// ModeFromEnv reads EnvVar through getenv.
func ModeFromEnv(getenv func(string) string) Mode {
	return ParseMode(getenv(EnvVar))
}

// Compare returns nil when both files exist with identical bytes or when
// neither exists. Anything else, including a golden with no produced
// counterpart, is a failure.ErrGoldenMismatch.
func Compare(actual, expected string) error {
	got, gotErr := os.ReadFile(actual)
	want, wantErr := os.ReadFile(expected)

	gotExists, wantExists := exists(gotErr), exists(wantErr)
	if gotErr != nil && gotExists {
		return gotErr
	}
	if wantErr != nil && wantExists {
		return wantErr
	}

	switch {
	case !gotExists && !wantExists:
		return nil
	case gotExists != wantExists:
		return failure.GoldenMismatchf("existence mismatch: %s exists=%t, golden %s exists=%t",
			actual, gotExists, expected, wantExists)
	case !bytes.Equal(got, want):
		return failure.GoldenMismatchf("content mismatch: %s differs from golden %s\n%s",
			actual, expected, firstDifference(got, want))
	}
	return nil
}

func exists(readErr error) bool {
	return readErr == nil || !os.IsNotExist(readErr)
}

// firstDifference describes the first line where got and want diverge.
func firstDifference(got, want []byte) string {
	g := strings.Split(string(got), "\n")
	w := strings.Split(string(want), "\n")
	for i := 0; i < len(g) || i < len(w); i++ {
		var gl, wl string
		if i < len(g) {
			gl = g[i]
		}
		if i < len(w) {
			wl = w[i]
		}
		if gl != wl {
			return fmt.Sprintf("line %d:\n  got:  %s\n  want: %s", i+1, gl, wl)
		}
	}
	return ""
}

// Harness compares or records goldens depending on its mode.
type Harness struct {
	mode       Mode
	fixtureDir string
}

// Option configures a Harness.
type Option func(*Harness)

// WithFixtureDir sets where AssertBytes keeps its goldens
// (default testdata/golden).
func WithFixtureDir(dir string) Option {
	return func(h *Harness) { h.fixtureDir = dir }
}

// New creates a harness in mode.
func New(mode Mode, opts ...Option) *Harness {
	h := &Harness{mode: mode, fixtureDir: filepath.Join("testdata", "golden")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mode reports the harness mode.
func (h *Harness) Mode() Mode { return h.mode }

// CompareFiles verifies actual against expected, or records actual as the
// new expected in write mode. In write mode a missing actual removes the
// golden, keeping the existence rule symmetric.
func (h *Harness) CompareFiles(t testing.TB, actual, expected, msg string) {
	t.Helper()
	if h.mode == ModeWrite {
		record(t, actual, expected)
		return
	}
	assert.NoError(t, Compare(actual, expected), msg)
}

// CompareDirs applies CompareFiles to each name under the two directories.
func (h *Harness) CompareDirs(t testing.TB, actualDir, expectedDir string, names ...string) {
	t.Helper()
	for _, name := range names {
		h.CompareFiles(t, filepath.Join(actualDir, name), filepath.Join(expectedDir, name), name)
	}
}

// AssertBytes checks an in-memory artifact against
// <fixtureDir>/<name>.golden, or updates that golden in write mode.
func (h *Harness) AssertBytes(t *testing.T, name string, data []byte) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir(h.fixtureDir),
		goldie.WithNameSuffix(".golden"),
	)
	if h.mode == ModeWrite {
		require.NoError(t, g.Update(t, name, data))
		return
	}
	g.Assert(t, name, data)
}

func record(t testing.TB, actual, expected string) {
	t.Helper()
	data, err := os.ReadFile(actual)
	if os.IsNotExist(err) {
		if rmErr := os.Remove(expected); rmErr != nil && !os.IsNotExist(rmErr) {
			t.Fatalf("remove golden %s: %v", expected, rmErr)
		}
		return
	}
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(expected), 0o755))
	require.NoError(t, os.WriteFile(expected, data, 0o644))
}
