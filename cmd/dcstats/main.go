package main

import (
	"fmt"
	"os"

	"github.com/roach88/dcstats/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if cli.NeedsReport(err) {
			fmt.Fprintln(os.Stderr, cli.Diagnostic(err))
		}
		os.Exit(cli.GetExitCode(err))
	}
}
