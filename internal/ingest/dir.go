package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/failure"
)

// Options controls a directory read.
type Options struct {
	Policy  Policy
	Workers int

	// Provenance maps a configured provenance name to the id stamped on
	// observations. Nil leaves observation provenance empty.
	Provenance func(name string) string

	Logger *zap.Logger
}

// ListInputs returns the names of the CSV files directly inside dir, sorted.
func ListInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, failure.Config(err, "read input directory")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Sources resolves every CSV file in dir against cfg.
func Sources(dir string, cfg *config.Config, provenance func(string) string) ([]Source, error) {
	names, err := ListInputs(dir)
	if err != nil {
		return nil, err
	}
	srcs := make([]Source, len(names))
	for i, name := range names {
		in, _ := cfg.InputFileFor(name)
		src := Source{Name: name, Path: filepath.Join(dir, name), Input: in}
		if provenance != nil && in.Provenance != "" {
			src.Provenance = provenance(in.Provenance)
		}
		srcs[i] = src
	}
	return srcs, nil
}

// ReadDir reads every CSV file in dir. Files are read by up to
// opts.Workers goroutines; results come back in file name order. The
// first fatal error cancels the remaining reads and is returned wrapped in
// a failure.StageError naming the file.
func ReadDir(ctx context.Context, dir string, cfg *config.Config, opts Options) ([]*FileRecords, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	srcs, err := Sources(dir, cfg, opts.Provenance)
	if err != nil {
		return nil, err
	}
	if len(srcs) == 0 {
		log.Warn("no input files found", zap.String("dir", dir))
		return nil, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = config.DefaultWorkers
	}

	results := make([]*FileRecords, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, src := range srcs {
		g.Go(func() error {
			r, err := ReaderFor(src.Input.Format, opts.Policy)
			if err != nil {
				return failure.InStage("ingest", src.Name, err)
			}
			recs, err := r.Read(gctx, src)
			if err != nil {
				return failure.InStage("ingest", src.Name, err)
			}
			log.Debug("read input file",
				zap.String("file", src.Name),
				zap.String("format", recs.Format),
				zap.Int("rows", recs.Rows),
				zap.Int("observations", len(recs.Observations)),
				zap.Int("triples", len(recs.Triples)),
				zap.Int("skipped", len(recs.Skipped)))
			results[i] = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
