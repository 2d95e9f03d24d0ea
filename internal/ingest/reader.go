package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/failure"
	"github.com/roach88/dcstats/internal/model"
)

// Policy decides what happens to a record that fails validation.
type Policy int

const (
	// Abort stops the read at the first bad record.
	Abort Policy = iota
	// Skip drops bad records and counts them.
	Skip
)

func (p Policy) String() string {
	if p == Skip {
		return "skip"
	}
	return "abort"
}

// Source is one input file and the settings it is read with.
type Source struct {
	Name  string
	Path  string
	Input config.InputFile

	// Provenance is the provenance id stamped on every observation.
	Provenance string
}

// FileRecords is what one input file yielded.
type FileRecords struct {
	File         string
	Format       string
	Rows         int
	Observations []model.Observation
	Triples      []model.Triple
	Skipped      []*failure.ValidationError
}

// Reader turns one input file into records.
type Reader interface {
	Read(ctx context.Context, src Source) (*FileRecords, error)
}

// ReaderFor returns the reader for a config format.
func ReaderFor(format string, policy Policy) (Reader, error) {
	switch format {
	case config.FormatWide, "":
		return &wideReader{policy: policy}, nil
	case config.FormatLong:
		return &longReader{policy: policy}, nil
	case config.FormatTriples:
		return &tripleReader{policy: policy}, nil
	}
	return nil, failure.Configf("unknown input format %q", format)
}

// rowFunc converts one data row. A returned *failure.ValidationError is
// subject to the policy; any other error is fatal.
type rowFunc func(row []string, out *FileRecords) error

// scan reads src as CSV, hands the header to header and every data row to
// row. Row numbers in validation errors are 1-based data row positions.
func scan(ctx context.Context, src Source, format string, policy Policy,
	header func([]string) error, row rowFunc) (*FileRecords, error) {

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	out := &FileRecords{File: src.Name, Format: format}

	head, err := cr.Read()
	if err == io.EOF {
		return nil, (&failure.ValidationError{Field: "header", Reason: "file is empty"}).At(src.Name, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", src.Name, err)
	}
	if len(head) > 0 {
		head[0] = strings.TrimPrefix(head[0], "\ufeff")
	}
	for i := range head {
		head[i] = strings.TrimSpace(head[i])
	}
	if err := header(head); err != nil {
		return nil, asValidation(err).At(src.Name, 0)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Name, err)
		}
		out.Rows++

		if err := row(rec, out); err != nil {
			ve, ok := err.(*failure.ValidationError)
			if !ok {
				return nil, err
			}
			ve = ve.At(src.Name, out.Rows)
			if policy == Abort {
				return nil, ve
			}
			out.Skipped = append(out.Skipped, ve)
		}
	}
	return out, nil
}

func checkWidth(row, header []string) error {
	if len(row) != len(header) {
		return failure.Invalid("", fmt.Sprintf("expected %d fields, got %d", len(header), len(row)))
	}
	return nil
}

// observation builds an observation carrying the file-level metadata.
func observation(src Source) model.Observation {
	in := src.Input
	return model.Observation{
		Provenance:        src.Provenance,
		Unit:              in.Unit,
		ScalingFactor:     in.ScalingFactor,
		MeasurementMethod: in.MeasurementMethod,
		ObservationPeriod: in.ObservationPeriod,
		Properties:        model.EncodeProperties(in.Properties),
	}
}

// wideReader reads entity, date, <variable>... files.
type wideReader struct {
	policy Policy
}

func (r *wideReader) Read(ctx context.Context, src Source) (*FileRecords, error) {
	var header []string
	return scan(ctx, src, config.FormatWide, r.policy,
		func(h []string) error {
			if len(h) < 3 {
				return failure.Invalid("header", "wide files need entity, date and at least one variable column")
			}
			for i, v := range h[2:] {
				if v == "" {
					return failure.Invalid("header", fmt.Sprintf("variable column %d has no name", i+3))
				}
			}
			header = h
			return nil
		},
		func(row []string, out *FileRecords) error {
			if err := checkWidth(row, header); err != nil {
				return err
			}
			// Build the whole row first so a bad cell drops the row as a unit.
			var obs []model.Observation
			for j := 2; j < len(row); j++ {
				if strings.TrimSpace(row[j]) == "" {
					continue
				}
				o := observation(src)
				o.Entity = row[0]
				o.Date = row[1]
				o.Variable = header[j]
				o.Value = row[j]
				o = o.Normalize()
				if err := o.Validate(); err != nil {
					return err
				}
				obs = append(obs, o)
			}
			out.Observations = append(out.Observations, obs...)
			return nil
		})
}

// longReader reads one observation per row.
type longReader struct {
	policy Policy
}

var requiredLongColumns = []string{"entity", "variable", "date", "value"}

func (r *longReader) Read(ctx context.Context, src Source) (*FileRecords, error) {
	var (
		header []string
		index  = map[string]int{}
	)
	return scan(ctx, src, config.FormatLong, r.policy,
		func(h []string) error {
			known := map[string]bool{}
			for _, f := range model.ObservationFields {
				known[f] = true
			}
			for i, col := range h {
				if !known[col] {
					return failure.Invalid("header", fmt.Sprintf("unknown column %q", col))
				}
				if _, dup := index[col]; dup {
					return failure.Invalid("header", fmt.Sprintf("duplicate column %q", col))
				}
				index[col] = i
			}
			for _, col := range requiredLongColumns {
				if _, ok := index[col]; !ok {
					return failure.Invalid("header", fmt.Sprintf("missing column %q", col))
				}
			}
			header = h
			return nil
		},
		func(row []string, out *FileRecords) error {
			if err := checkWidth(row, header); err != nil {
				return err
			}
			fields := observation(src).Fields()
			for pos, name := range model.ObservationFields {
				if i, ok := index[name]; ok && row[i] != "" {
					fields[pos] = row[i]
				}
			}
			o, err := model.ObservationFromFields(fields)
			if err != nil {
				return err
			}
			o = o.Normalize()
			if err := o.Validate(); err != nil {
				return err
			}
			out.Observations = append(out.Observations, o)
			return nil
		})
}

// tripleReader reads subject_id, predicate, object_id, object_value files.
type tripleReader struct {
	policy Policy
}

func (r *tripleReader) Read(ctx context.Context, src Source) (*FileRecords, error) {
	return scan(ctx, src, config.FormatTriples, r.policy,
		func(h []string) error {
			if strings.Join(h, ",") != strings.Join(model.TripleFields, ",") {
				return failure.Invalid("header", fmt.Sprintf("want columns %s", strings.Join(model.TripleFields, ",")))
			}
			return nil
		},
		func(row []string, out *FileRecords) error {
			t, err := model.TripleFromFields(row)
			if err != nil {
				return err
			}
			t = t.Normalize()
			if err := t.Validate(); err != nil {
				return err
			}
			out.Triples = append(out.Triples, t)
			return nil
		})
}

func asValidation(err error) *failure.ValidationError {
	if ve, ok := err.(*failure.ValidationError); ok {
		return ve
	}
	return &failure.ValidationError{Reason: err.Error()}
}
