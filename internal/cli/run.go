package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/runner"
)

// Flag defaults.
const (
	DefaultInputDir   = ".data/input"
	DefaultOutputDir  = ".data/output"
	DefaultFrozenTime = "2023-01-01"

	// EnvPrefix prefixes the environment variables that override run flags,
	// e.g. DCSTATS_INPUT_DIR.
	EnvPrefix = "DCSTATS"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string
	InputDir   string
	OutputDir  string
	Mode       string
	FreezeTime bool
	FrozenTime string
	DumpSQL    bool

	// Clocks allows overriding the clock facility (for testing).
	// If nil, the runner uses the system clock.
	Clocks *clock.Facility
}

// RunSummary is the success payload of the run command.
type RunSummary struct {
	Mode         string `json:"mode"`
	OutputDir    string `json:"output_dir"`
	Observations int    `json:"observations"`
	Triples      int    `json:"triples"`
	KeyValues    int    `json:"key_values"`
	Skipped      int    `json:"skipped"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("Run %s complete: %d observations, %d triples, %d key values (%d skipped) in %s",
		s.Mode, s.Observations, s.Triples, s.KeyValues, s.Skipped, s.OutputDir)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import an input directory into the output store",
		Long: `Run the import pipeline for one mode.

Modes:
  customdc      ingest into datacommons.db; the first bad record fails the run
  maindc        ingest and export CSVs; bad records are skipped and counted
  schemaupdate  migrate an existing datacommons.db to the current schema

Every flag can also be set through the environment, e.g. DCSTATS_MODE=maindc.

Example:
  dcstats run --input_dir ./input --output_dir ./output
  dcstats run --mode maindc --freeze_time --frozen_time "2023-01-01 00:00:00"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd); err != nil {
				return err
			}
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config_file", "", "config file (default <input_dir>/config.json)")
	cmd.Flags().StringVar(&opts.InputDir, "input_dir", DefaultInputDir, "input directory")
	cmd.Flags().StringVar(&opts.OutputDir, "output_dir", DefaultOutputDir, "output directory")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(runner.ModeCustomDC), "run mode (customdc|maindc|schemaupdate)")
	cmd.Flags().BoolVar(&opts.FreezeTime, "freeze_time", false, "freeze time in generated outputs; useful for sample and test runs")
	cmd.Flags().StringVar(&opts.FrozenTime, "frozen_time", DefaultFrozenTime, "instant time is frozen at when --freeze_time is set")
	cmd.Flags().BoolVar(&opts.DumpSQL, "dump_sql", false, "also write the SQL dump of the store")

	return cmd
}

// resolve layers environment overrides under explicitly set flags.
func (o *RunOptions) resolve(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "bind flags", err)
	}

	o.ConfigFile = v.GetString("config_file")
	o.InputDir = v.GetString("input_dir")
	o.OutputDir = v.GetString("output_dir")
	o.Mode = v.GetString("mode")
	o.FreezeTime = v.GetBool("freeze_time")
	o.FrozenTime = v.GetString("frozen_time")
	o.DumpSQL = v.GetBool("dump_sql")
	return nil
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	mode, err := runner.ParseMode(opts.Mode)
	if err != nil {
		return formatter.Failure("invalid mode", err)
	}

	runOpts := runner.Options{
		ConfigFile: opts.ConfigFile,
		InputDir:   opts.InputDir,
		OutputDir:  opts.OutputDir,
		Mode:       mode,
		DumpSQL:    opts.DumpSQL,
		Clocks:     opts.Clocks,
	}
	if opts.FreezeTime {
		at, err := clock.ParseInstant(opts.FrozenTime)
		if err != nil {
			return formatter.Failure("invalid --frozen_time", failure.Config(err, "frozen_time"))
		}
		runOpts.Freeze = true
		runOpts.FrozenAt = at
	}

	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer func() { _ = log.Sync() }()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := runner.New(runOpts, log).Run(ctx)
	if err != nil {
		log.Debug("run aborted", zap.Error(err))
		return formatter.Failure("run failed", err)
	}

	return formatter.Success(RunSummary{
		Mode:         rep.Mode,
		OutputDir:    opts.OutputDir,
		Observations: rep.Totals.Observations,
		Triples:      rep.Totals.Triples,
		KeyValues:    rep.Totals.KeyValues,
		Skipped:      rep.Totals.Skipped,
	})
}
