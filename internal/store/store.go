package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial three-table schema
// 2 - Observations carry every column of model.ObservationFields
const currentSchemaVersion = 2

// CurrentSchemaVersion is the user_version a freshly opened store reports.
const CurrentSchemaVersion = currentSchemaVersion

// Store provides durable storage for one dcstats dataset.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Fails with failure.ErrStoreUnavailable when the path cannot be written or
// the file is not a valid SQLite database.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, failure.StoreUnavailable(err, fmt.Sprintf("open database %s", path))
	}

	// Ping forces the file to be opened (and created).
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, failure.StoreUnavailable(err, fmt.Sprintf("connect to database %s", path))
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, failure.StoreUnavailable(err, fmt.Sprintf("apply pragmas to %s", path))
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, failure.StoreUnavailable(err, fmt.Sprintf("apply schema to %s", path))
	}

	return &Store{db: db, path: path}, nil
}

// newWithDB wraps an existing handle without touching its schema.
// Used by tests that drive the store through sqlmock.
func newWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion reports the store's PRAGMA user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, failure.StoreUnavailable(err, "read schema version")
	}
	return version, nil
}

// Tables returns the names of the user tables in the store, sorted.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, failure.StoreUnavailable(err, "list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, failure.StoreUnavailable(err, "scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.StoreUnavailable(err, "iterate tables")
	}
	return names, nil
}

// Count returns the number of rows in one of the fixed tables.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if model.FieldsOf(table) == nil {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n); err != nil {
		return 0, failure.StoreUnavailable(err, fmt.Sprintf("count %s", table))
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 adds any observation column missing from stores written
// before the observation field set was complete. Added columns are appended
// after the existing ones; reads and exports name columns explicitly, so
// physical order does not matter.
func migrateToV2(db *sql.DB) error {
	existing, err := columnNames(context.Background(), db, model.TableObservations)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}

	for _, col := range model.ObservationFields {
		if have[col] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE observations ADD COLUMN %s TEXT`, col)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: add column %s: %w", col, err)
		}
	}
	return nil
}

// columnNames lists a table's columns in declaration order.
func columnNames(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}
