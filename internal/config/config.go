package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dcstats/internal/failure"
)

//go:embed schema.cue
var schemaCUE string

// Input formats.
const (
	FormatWide    = "wide"
	FormatLong    = "long"
	FormatTriples = "triples"
)

// DefaultWorkers bounds parallel file reads when the config sets none.
const DefaultWorkers = 4

// RootGroupID is the id of the implicit group every configured group
// specializes.
const RootGroupID = "c/g/Root"

// DefaultFileName is the config file looked up in the input directory when
// no path is given.
const DefaultFileName = "config.json"

// Config is the decoded run configuration.
type Config struct {
	InputFiles      map[string]InputFile `yaml:"input_files" toml:"input_files"`
	Variables       map[string]Variable  `yaml:"variables" toml:"variables"`
	Sources         map[string]Source    `yaml:"sources" toml:"sources"`
	CompressExports bool                 `yaml:"compress_exports" toml:"compress_exports"`
	Workers         int                  `yaml:"workers" toml:"workers"`
}

// InputFile describes how to read the input files matching one pattern.
type InputFile struct {
	Format            string            `yaml:"format" toml:"format"`
	Provenance        string            `yaml:"provenance" toml:"provenance"`
	Unit              string            `yaml:"unit" toml:"unit"`
	ScalingFactor     string            `yaml:"scaling_factor" toml:"scaling_factor"`
	MeasurementMethod string            `yaml:"measurement_method" toml:"measurement_method"`
	ObservationPeriod string            `yaml:"observation_period" toml:"observation_period"`
	Properties        map[string]string `yaml:"properties" toml:"properties"`
}

// Variable carries the metadata of one statistical variable.
type Variable struct {
	Name        string            `yaml:"name" toml:"name"`
	Description string            `yaml:"description" toml:"description"`
	Group       string            `yaml:"group" toml:"group"`
	Properties  map[string]string `yaml:"properties" toml:"properties"`
}

// Source is a data source and its provenances (name -> url).
type Source struct {
	URL         string            `yaml:"url" toml:"url"`
	Provenances map[string]string `yaml:"provenances" toml:"provenances"`
}

// Load reads, schema-checks and decodes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.WithHint(
			failure.Config(err, "read config file"),
			"pass --config_file or place a config.json in the input directory")
	}
	return Parse(data, formatOf(path))
}

// Syntax identifies a config file syntax.
type Syntax int

const (
	SyntaxYAML Syntax = iota // also used for JSON
	SyntaxTOML
)

func formatOf(p string) Syntax {
	if strings.EqualFold(filepath.Ext(p), ".toml") {
		return SyntaxTOML
	}
	return SyntaxYAML
}

// Parse schema-checks and decodes config data.
func Parse(data []byte, syntax Syntax) (*Config, error) {
	var raw map[string]any
	switch syntax {
	case SyntaxTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, failure.Config(err, "parse TOML config")
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, failure.Config(err, "parse config")
		}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	switch syntax {
	case SyntaxTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, failure.Config(err, "decode TOML config")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, failure.Configf("unknown config key %q", undecoded[0].String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, failure.Config(err, "decode config")
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSchema unifies the raw document with #Config.
func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return failure.Config(err, "compile config schema")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return failure.Config(err, "encode config")
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return failure.Config(err, "config does not match schema")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.InputFiles == nil {
		c.InputFiles = map[string]InputFile{}
	}
	for pattern, f := range c.InputFiles {
		if f.Format == "" {
			f.Format = FormatWide
			c.InputFiles[pattern] = f
		}
	}
}

// Validate checks cross references the schema cannot express. Input file
// patterns must be well formed and name configured provenances, and group
// paths must map to distinct ids other than the root's.
func (c *Config) Validate() error {
	known := map[string]bool{}
	for _, src := range c.Sources {
		for name := range src.Provenances {
			if known[name] {
				return failure.Configf("provenance %q is declared by more than one source", name)
			}
			known[name] = true
		}
	}
	for _, pattern := range c.patterns() {
		if _, err := path.Match(pattern, ""); err != nil {
			return failure.Config(err, fmt.Sprintf("input_files pattern %q", pattern))
		}
		prov := c.InputFiles[pattern].Provenance
		if prov != "" && !known[prov] {
			return failure.Configf("input_files %q: unknown provenance %q", pattern, prov)
		}
	}
	for _, id := range c.VariableIDs() {
		for k, v := range c.Variables[id].Properties {
			if k == "" || v == "" {
				return failure.Configf("variables %q: properties need a non-empty name and value", id)
			}
		}
	}
	return c.ValidateGroups()
}

// GroupID returns the id of a group path such as "Demographics/Population".
func GroupID(path string) string {
	return "c/g/" + strings.NewReplacer("/", "_", " ", "_").Replace(path)
}

// GroupPaths returns every group path and prefix named by a variable,
// sorted.
func (c *Config) GroupPaths() []string {
	seen := map[string]bool{}
	for _, v := range c.Variables {
		if v.Group == "" {
			continue
		}
		parts := strings.Split(v.Group, "/")
		for i := range parts {
			seen[strings.Join(parts[:i+1], "/")] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ValidateGroups rejects group paths whose ids collide with each other or
// with the root group.
func (c *Config) ValidateGroups() error {
	byID := map[string]string{}
	for _, p := range c.GroupPaths() {
		id := GroupID(p)
		if id == RootGroupID {
			return failure.WithHint(
				failure.Configf("group %q collides with the root group %s", p, RootGroupID),
				"rename the group; the root group is implicit")
		}
		if other, ok := byID[id]; ok {
			return failure.WithHint(
				failure.Configf("groups %q and %q both map to id %s", other, p, id),
				"spaces and slashes in group paths become underscores")
		}
		byID[id] = p
	}
	return nil
}

// Default returns the configuration used for an input file no pattern
// matches.
func Default() InputFile {
	return InputFile{Format: FormatWide}
}

// InputFileFor returns the entry governing the file name. Exact names win
// over patterns; among patterns the lexically first match wins.
func (c *Config) InputFileFor(name string) (InputFile, bool) {
	if f, ok := c.InputFiles[name]; ok {
		return f, true
	}
	for _, pattern := range c.patterns() {
		if ok, _ := path.Match(pattern, name); ok {
			return c.InputFiles[pattern], true
		}
	}
	return Default(), false
}

func (c *Config) patterns() []string {
	out := make([]string, 0, len(c.InputFiles))
	for p := range c.InputFiles {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SourceNames returns the configured source names, sorted.
func (c *Config) SourceNames() []string {
	return sortedKeys(c.Sources)
}

// VariableIDs returns the configured variable ids, sorted.
func (c *Config) VariableIDs() []string {
	return sortedKeys(c.Variables)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
