package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/model"
	"github.com/roach88/dcstats/internal/store"
)

// StoreOptions holds flags shared by the store interchange commands.
type StoreOptions struct {
	*RootOptions
	Database string
	Path     string
	Tables   []string
}

func (o *StoreOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openExisting opens a store that must already exist; store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, failure.Config(err, "database")
	}
	return store.Open(path)
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the store as a replayable SQL dump",
		Long: `Write the full schema and contents of a store as SQL statements.

The dump is the store's interchange format: 'dcstats restore' replays it into
a fresh database with identical rows.

Example:
  dcstats dump --db .data/output/datacommons.db --out backup.sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			s, err := openExisting(opts.Database)
			if err != nil {
				return f.Failure("open database", err)
			}
			defer s.Close()

			if err := s.DumpToFile(cmd.Context(), opts.Path); err != nil {
				return f.Failure("dump failed", err)
			}
			return f.Success(fmt.Sprintf("Dumped %s to %s", opts.Database, opts.Path))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVarP(&opts.Path, "out", "o", "", "dump file to write (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Rebuild a store from a SQL dump",
		Long: `Replay a dump written by 'dcstats dump' into a new database.

The target database must not already hold the dcstats tables.

Example:
  dcstats restore --dump backup.sql --db restored.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if _, err := os.Stat(opts.Path); err != nil {
				return f.Failure("read dump", failure.Config(err, "dump file"))
			}
			if err := store.Restore(cmd.Context(), opts.Database, opts.Path); err != nil {
				return f.Failure("restore failed", err)
			}
			return f.Success(fmt.Sprintf("Restored %s into %s", opts.Path, opts.Database))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database to create (required)")
	cmd.Flags().StringVar(&opts.Path, "dump", "", "dump file to replay (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("dump")

	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export store tables as CSV",
		Long: `Write <table>.csv for each requested table into a directory.

Columns follow the fixed field order of each table; output is byte-identical
for identical store contents.

Example:
  dcstats export --db .data/output/datacommons.db --out ./csv
  dcstats export --db datacommons.db --out ./csv --table triples`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			for _, table := range opts.Tables {
				if model.FieldsOf(table) == nil {
					return f.Failure("invalid --table", failure.Configf("unknown table %q", table))
				}
			}

			s, err := openExisting(opts.Database)
			if err != nil {
				return f.Failure("open database", err)
			}
			defer s.Close()

			if err := os.MkdirAll(opts.Path, 0o755); err != nil {
				return f.Failure("create output directory", err)
			}
			var written []string
			for _, table := range opts.Tables {
				out := filepath.Join(opts.Path, table+".csv")
				if err := s.ExportTableCSV(cmd.Context(), table, out); err != nil {
					return f.Failure("export failed", err)
				}
				written = append(written, out)
			}
			if f.Format == "json" {
				return f.Success(map[string]any{"files": written})
			}
			return f.Success(fmt.Sprintf("Exported %d tables to %s", len(written), opts.Path))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVarP(&opts.Path, "out", "o", "", "output directory (required)")
	cmd.Flags().StringSliceVar(&opts.Tables, "table", model.Tables, "tables to export")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
