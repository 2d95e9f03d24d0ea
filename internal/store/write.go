package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/model"
)

// fieldser is implemented by every model record.
type fieldser interface {
	Fields() []string
}

// WriteObservations bulk-inserts observations in one transaction.
// Rows are appended in slice order; duplicates are not detected here.
func (s *Store) WriteObservations(ctx context.Context, obs []model.Observation) error {
	return s.inTx(ctx, "write observations", func(tx *sql.Tx) error {
		return insertAll(ctx, tx, model.TableObservations, obs)
	})
}

// WriteTriples bulk-inserts triples in one transaction.
func (s *Store) WriteTriples(ctx context.Context, triples []model.Triple) error {
	return s.inTx(ctx, "write triples", func(tx *sql.Tx) error {
		return insertAll(ctx, tx, model.TableTriples, triples)
	})
}

// WriteKeyValues bulk-inserts key values in one transaction.
// Uses INSERT OR REPLACE: an existing lookup_key is overwritten (last write
// wins).
func (s *Store) WriteKeyValues(ctx context.Context, kvs []model.KeyValue) error {
	return s.inTx(ctx, "write key values", func(tx *sql.Tx) error {
		return insertAll(ctx, tx, model.TableKeyValueStore, kvs)
	})
}

// Persist replaces the contents of all three tables with recs in a single
// transaction. Either every table holds the new record set or, on failure,
// every table keeps its previous contents.
func (s *Store) Persist(ctx context.Context, recs *model.Records) error {
	return s.inTx(ctx, "persist records", func(tx *sql.Tx) error {
		for _, table := range model.Tables {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, table)); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := insertAll(ctx, tx, model.TableObservations, recs.Observations); err != nil {
			return err
		}
		if err := insertAll(ctx, tx, model.TableTriples, recs.Triples); err != nil {
			return err
		}
		return insertAll(ctx, tx, model.TableKeyValueStore, recs.KeyValues)
	})
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure.StoreUnavailable(err, op+": begin tx")
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return failure.StoreUnavailable(err, op)
	}

	if err := tx.Commit(); err != nil {
		return failure.StoreUnavailable(err, op+": commit")
	}
	return nil
}

// insertAll inserts records into table with one prepared statement.
func insertAll[T fieldser](ctx context.Context, tx *sql.Tx, table string, records []T) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for i, rec := range records {
		fields := rec.Fields()
		args := make([]any, len(fields))
		for j, f := range fields {
			args[j] = f
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s record %d: %w", table, i+1, err)
		}
	}
	return nil
}

// insertSQL builds the insert statement for a fixed table.
func insertSQL(table string) string {
	cols := model.FieldsOf(table)
	verb := "INSERT"
	if table == model.TableKeyValueStore {
		verb = "INSERT OR REPLACE"
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table, strings.Join(cols, ", "), placeholders)
}
