package golden

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/dcstats/internal/model"
	"github.com/roach88/dcstats/internal/store"
)

// WriteObservations exports the observations of the store at dbPath to a
// CSV file at out.
func WriteObservations(ctx context.Context, dbPath, out string) error {
	return exportTable(ctx, dbPath, model.TableObservations, out)
}

// WriteTriples exports the triples of the store at dbPath to out.
func WriteTriples(ctx context.Context, dbPath, out string) error {
	return exportTable(ctx, dbPath, model.TableTriples, out)
}

// WriteKeyValues exports the key values of the store at dbPath to out.
func WriteKeyValues(ctx context.Context, dbPath, out string) error {
	return exportTable(ctx, dbPath, model.TableKeyValueStore, out)
}

func exportTable(ctx context.Context, dbPath, table, out string) error {
	return withStore(dbPath, func(s *store.Store) error {
		return s.ExportTableCSV(ctx, table, out)
	})
}

// ExportStore writes <table>.csv into dir for every non-empty table of the
// store and returns the file names written. Empty tables produce no file,
// so a golden for a table the run stopped filling fails Compare.
func ExportStore(ctx context.Context, dbPath, dir string) ([]string, error) {
	var written []string
	err := withStore(dbPath, func(s *store.Store) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for _, table := range model.Tables {
			n, err := s.Count(ctx, table)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			name := table + ".csv"
			if err := s.ExportTableCSV(ctx, table, filepath.Join(dir, name)); err != nil {
				return err
			}
			written = append(written, name)
		}
		return nil
	})
	return written, err
}

// WriteFullDB writes the SQL dump of the store at dbPath to out.
func WriteFullDB(ctx context.Context, dbPath, out string) error {
	return withStore(dbPath, func(s *store.Store) error {
		return s.DumpToFile(ctx, out)
	})
}

// ReadFullDB rebuilds a store at dbPath from the dump at in.
func ReadFullDB(ctx context.Context, dbPath, in string) error {
	return store.Restore(ctx, dbPath, in)
}

// ReadTriplesCSV reads a triples CSV written by WriteTriples. Empty cells
// stay empty strings.
func ReadTriplesCSV(path string) ([]model.Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read %s: missing header", path)
	}
	if got := strings.Join(rows[0], ","); got != strings.Join(model.TripleFields, ",") {
		return nil, fmt.Errorf("read %s: unexpected header %q", path, got)
	}

	triples := make([]model.Triple, 0, len(rows)-1)
	for i, row := range rows[1:] {
		t, err := model.TripleFromFields(row)
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", path, i+1, err)
		}
		triples = append(triples, t)
	}
	return triples, nil
}

// WriteTriplesList writes triples as a CSV with the triples header.
func WriteTriplesList(triples []model.Triple, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(model.TripleFields); err != nil {
		f.Close()
		return err
	}
	for _, t := range triples {
		if err := w.Write(t.Fields()); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func withStore(dbPath string, fn func(s *store.Store) error) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open store %s: %w", dbPath, err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
