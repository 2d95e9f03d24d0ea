package store

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/failure"
)

// schemaObject is one row of sqlite_master with non-NULL sql.
type schemaObject struct {
	name string
	sql  string
}

// Dump writes the full schema and contents of the store to w as SQL
// statements, one per line, in the layout of SQLite's iterdump:
//
//	BEGIN TRANSACTION;
//	CREATE TABLE key_value_store (...);
//	INSERT INTO "key_value_store" VALUES('k','v');
//	CREATE TABLE observations (...);
//	...
//	COMMIT;
//
// Tables are emitted by name, rows by rowid, and values are rendered with
// SQL quote(), so the dump of a given store state is byte-stable.
func (s *Store) Dump(ctx context.Context, w io.Writer) error {
	bw := bufio.NewWriter(w)

	tables, err := s.schemaObjects(ctx, `type = 'table'`)
	if err != nil {
		return err
	}
	others, err := s.schemaObjects(ctx, `type IN ('index', 'trigger', 'view')`)
	if err != nil {
		return err
	}

	fmt.Fprintln(bw, "BEGIN TRANSACTION;")
	for _, t := range tables {
		if strings.HasPrefix(t.name, "sqlite_") {
			continue
		}
		fmt.Fprintf(bw, "%s;\n", t.sql)
		if err := s.dumpRows(ctx, bw, t.name); err != nil {
			return err
		}
	}
	for _, o := range others {
		fmt.Fprintf(bw, "%s;\n", o.sql)
	}
	fmt.Fprintln(bw, "COMMIT;")

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dump: flush: %w", err)
	}
	return nil
}

// DumpToFile writes Dump output to path. A failed dump leaves any previous
// file at path untouched.
func (s *Store) DumpToFile(ctx context.Context, path string) error {
	return artifact.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return s.Dump(ctx, w)
	})
}

// schemaObjects lists sqlite_master entries matching where, ordered by name.
func (s *Store) schemaObjects(ctx context.Context, where string) ([]schemaObject, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT name, sql FROM sqlite_master WHERE sql NOT NULL AND %s ORDER BY name`, where))
	if err != nil {
		return nil, failure.StoreUnavailable(err, "dump: read schema")
	}
	defer rows.Close()

	var objs []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.name, &o.sql); err != nil {
			return nil, failure.StoreUnavailable(err, "dump: scan schema")
		}
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.StoreUnavailable(err, "dump: iterate schema")
	}
	return objs, nil
}

// dumpRows writes one INSERT statement per row of table.
func (s *Store) dumpRows(ctx context.Context, w io.Writer, table string) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf(`'||quote(%s)||'`, quoteIdent(c))
	}
	q := fmt.Sprintf(`SELECT 'INSERT INTO %s VALUES(%s)' FROM %s ORDER BY rowid`,
		strings.ReplaceAll(quoteIdent(table), "'", "''"), strings.Join(quoted, ","), quoteIdent(table))

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return failure.StoreUnavailable(err, "dump: query "+table)
	}
	defer rows.Close()

	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return failure.StoreUnavailable(err, "dump: scan "+table)
		}
		if _, err := fmt.Fprintf(w, "%s;\n", stmt); err != nil {
			return fmt.Errorf("dump: write: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return failure.StoreUnavailable(err, "dump: iterate "+table)
	}
	return nil
}

// tableColumns lists a table's columns in declaration order.
func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := columnNames(ctx, s.db, table)
	if err != nil {
		return nil, failure.StoreUnavailable(err, "dump")
	}
	return cols, nil
}

// quoteIdent renders name as a double-quoted SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Restore replays a dump file into the database at dbPath, which must not
// already hold the dcstats tables. The replay runs on a raw connection with
// no schema applied; afterwards the store is opened once so the current
// schema version is stamped.
func Restore(ctx context.Context, dbPath, dumpPath string) error {
	script, err := os.ReadFile(dumpPath)
	if err != nil {
		return fmt.Errorf("read dump %s: %w", dumpPath, err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return failure.StoreUnavailable(err, "restore: open "+dbPath)
	}
	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		db.Close()
		return failure.StoreUnavailable(err, "restore: replay "+dumpPath)
	}
	if err := db.Close(); err != nil {
		return failure.StoreUnavailable(err, "restore: close "+dbPath)
	}

	s, err := Open(dbPath)
	if err != nil {
		return err
	}
	return s.Close()
}
