package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/model"
)

// ReadObservations returns every observation in table order.
// Returns an empty slice (not nil) when the table is empty.
func (s *Store) ReadObservations(ctx context.Context) ([]model.Observation, error) {
	out := []model.Observation{}
	err := s.scanTable(ctx, model.TableObservations, func(f []string) error {
		o, err := model.ObservationFromFields(f)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// ReadTriples returns every triple in table order.
func (s *Store) ReadTriples(ctx context.Context) ([]model.Triple, error) {
	out := []model.Triple{}
	err := s.scanTable(ctx, model.TableTriples, func(f []string) error {
		t, err := model.TripleFromFields(f)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// ReadKeyValues returns every key value in table order.
func (s *Store) ReadKeyValues(ctx context.Context) ([]model.KeyValue, error) {
	out := []model.KeyValue{}
	err := s.scanTable(ctx, model.TableKeyValueStore, func(f []string) error {
		kv, err := model.KeyValueFromFields(f)
		if err != nil {
			return err
		}
		out = append(out, kv)
		return nil
	})
	return out, err
}

// ReadAll returns the full record set held by the store.
func (s *Store) ReadAll(ctx context.Context) (*model.Records, error) {
	obs, err := s.ReadObservations(ctx)
	if err != nil {
		return nil, err
	}
	triples, err := s.ReadTriples(ctx)
	if err != nil {
		return nil, err
	}
	kvs, err := s.ReadKeyValues(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Records{Observations: obs, Triples: triples, KeyValues: kvs}, nil
}

// ExportTableCSV writes all rows of table to a CSV file at outPath.
// The header row lists the table's fixed field order; there is no index
// column. NULL values are written as empty fields. The file only appears
// once the whole table has been written.
func (s *Store) ExportTableCSV(ctx context.Context, table, outPath string) error {
	return artifact.WriteFileAtomic(outPath, 0o644, func(w io.Writer) error {
		return s.ExportTableCSVTo(ctx, table, w)
	})
}

// ExportTableCSVTo writes all rows of table as CSV to w.
func (s *Store) ExportTableCSVTo(ctx context.Context, table string, w io.Writer) error {
	cols := model.FieldsOf(table)
	if cols == nil {
		return fmt.Errorf("export: unknown table %q", table)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("export %s: write header: %w", table, err)
	}

	err := s.scanTable(ctx, table, func(f []string) error {
		return cw.Write(f)
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", table, err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export %s: flush: %w", table, err)
	}
	return nil
}

// scanTable streams the rows of a fixed table in rowid order. Each row is
// passed to fn as strings in field order.
func (s *Store) scanTable(ctx context.Context, table string, fn func([]string) error) error {
	cols := model.FieldsOf(table)
	if cols == nil {
		return fmt.Errorf("unknown table %q", table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY rowid`, strings.Join(cols, ", "), table))
	if err != nil {
		return failure.StoreUnavailable(err, "query "+table)
	}
	defer rows.Close()

	raw := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return failure.StoreUnavailable(err, "scan "+table)
		}
		fields := make([]string, len(cols))
		for i, v := range raw {
			fields[i] = v.String
		}
		if err := fn(fields); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return failure.StoreUnavailable(err, "iterate "+table)
	}
	return nil
}
