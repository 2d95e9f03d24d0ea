// Package transform turns a config and the ingested files of a run into
// the run's full record set.
//
// Identifiers are assigned from sorted config keys, so the same config
// always produces the same ids:
//
//	c/s/<n>  sources, numbered by source name
//	c/p/<n>  provenances, numbered by (source name, provenance name)
//	c/g/<p>  variable groups, <p> being the group path with "/" -> "_"
//
// Triples are emitted in a fixed order: sources and their provenances,
// groups, variables, then triples read from input files in file order.
package transform

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/dcstats/internal/artifact"
	"github.com/roach88/dcstats/internal/clock"
	"github.com/roach88/dcstats/internal/config"
	"github.com/roach88/dcstats/internal/ingest"
	"github.com/roach88/dcstats/internal/model"
)

// Well-known ids and predicates.
const (
	RootGroupID = config.RootGroupID

	TypeSource              = "Source"
	TypeProvenance          = "Provenance"
	TypeStatVarGroup        = "StatVarGroup"
	TypeStatisticalVariable = "StatisticalVariable"

	PredTypeOf           = "typeOf"
	PredName             = "name"
	PredURL              = "url"
	PredDescription      = "description"
	PredIsPartOf         = "isPartOf"
	PredMemberOf         = "memberOf"
	PredSpecializationOf = "specializationOf"

	// KeyStatVarGroups holds the gzipped, base64 group tree.
	KeyStatVarGroups = "StatVarGroups"

	rootGroupName = "Custom Variables"
)

// IDs holds the identifiers assigned to configured entities.
type IDs struct {
	sources     map[string]string
	provenances map[string]string
	provSource  map[string]string
}

// AssignIDs numbers the configured sources and provenances.
func AssignIDs(cfg *config.Config) *IDs {
	ids := &IDs{
		sources:     map[string]string{},
		provenances: map[string]string{},
		provSource:  map[string]string{},
	}
	p := 0
	for i, name := range cfg.SourceNames() {
		ids.sources[name] = "c/s/" + strconv.Itoa(i+1)
		provs := make([]string, 0, len(cfg.Sources[name].Provenances))
		for prov := range cfg.Sources[name].Provenances {
			provs = append(provs, prov)
		}
		sort.Strings(provs)
		for _, prov := range provs {
			p++
			ids.provenances[prov] = "c/p/" + strconv.Itoa(p)
			ids.provSource[prov] = name
		}
	}
	return ids
}

// Source returns the id of a source name, or "".
func (ids *IDs) Source(name string) string { return ids.sources[name] }

// Provenance returns the id of a provenance name, or "".
func (ids *IDs) Provenance(name string) string { return ids.provenances[name] }

// GroupID returns the id of a group path such as "Demographics/Population".
func GroupID(path string) string { return config.GroupID(path) }

// Transformer builds the record set of a run.
type Transformer struct {
	cfg   *config.Config
	ids   *IDs
	clock clock.Clock
}

// New creates a transformer. c stamps the compressed key value blobs.
func New(cfg *config.Config, ids *IDs, c clock.Clock) *Transformer {
	return &Transformer{cfg: cfg, ids: ids, clock: c}
}

// Records materializes the full record set from the ingested files.
func (t *Transformer) Records(files []*ingest.FileRecords) (*model.Records, error) {
	recs := &model.Records{
		Observations: []model.Observation{},
		Triples:      []model.Triple{},
		KeyValues:    []model.KeyValue{},
	}
	for _, f := range files {
		recs.Observations = append(recs.Observations, f.Observations...)
	}

	recs.Triples = append(recs.Triples, t.sourceTriples()...)
	groups, err := t.groups()
	if err != nil {
		return nil, err
	}
	recs.Triples = append(recs.Triples, groupTriples(groups)...)
	recs.Triples = append(recs.Triples, t.variableTriples(recs.Observations)...)
	for _, f := range files {
		recs.Triples = append(recs.Triples, f.Triples...)
	}

	if len(groups) > 0 {
		blob, err := t.groupTree(groups)
		if err != nil {
			return nil, err
		}
		recs.KeyValues = append(recs.KeyValues, model.KeyValue{LookupKey: KeyStatVarGroups, Value: blob})
	}
	return recs, nil
}

func (t *Transformer) sourceTriples() []model.Triple {
	var out []model.Triple
	for _, name := range t.cfg.SourceNames() {
		src := t.cfg.Sources[name]
		sid := t.ids.Source(name)
		out = append(out,
			model.Ref(sid, PredTypeOf, TypeSource),
			model.Literal(sid, PredName, name))
		if src.URL != "" {
			out = append(out, model.Literal(sid, PredURL, src.URL))
		}

		provs := make([]string, 0, len(src.Provenances))
		for p := range src.Provenances {
			provs = append(provs, p)
		}
		sort.Strings(provs)
		for _, p := range provs {
			pid := t.ids.Provenance(p)
			out = append(out,
				model.Ref(pid, PredTypeOf, TypeProvenance),
				model.Literal(pid, PredName, p))
			if url := src.Provenances[p]; url != "" {
				out = append(out, model.Literal(pid, PredURL, url))
			}
			out = append(out, model.Ref(pid, PredIsPartOf, sid))
		}
	}
	return out
}

// group is one node of the variable group tree.
type group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Parent    string   `json:"-"`
	Variables []string `json:"variables,omitempty"`
	Children  []*group `json:"children,omitempty"`
}

// groups expands every configured group path into its prefixes, sorted by
// path. Configs that skipped Validate can still carry colliding ids.
func (t *Transformer) groups() ([]*group, error) {
	if err := t.cfg.ValidateGroups(); err != nil {
		return nil, err
	}
	byPath := map[string]*group{}
	for _, v := range t.cfg.VariableIDs() {
		path := t.cfg.Variables[v].Group
		if path == "" {
			continue
		}
		parts := strings.Split(path, "/")
		parent := RootGroupID
		for i := range parts {
			prefix := strings.Join(parts[:i+1], "/")
			g, ok := byPath[prefix]
			if !ok {
				g = &group{ID: GroupID(prefix), Name: parts[i], Parent: parent}
				byPath[prefix] = g
			}
			parent = g.ID
		}
		leaf := byPath[path]
		leaf.Variables = append(leaf.Variables, v)
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*group, len(paths))
	for i, p := range paths {
		out[i] = byPath[p]
	}
	return out, nil
}

func groupTriples(groups []*group) []model.Triple {
	var out []model.Triple
	for _, g := range groups {
		out = append(out,
			model.Ref(g.ID, PredTypeOf, TypeStatVarGroup),
			model.Literal(g.ID, PredName, g.Name),
			model.Ref(g.ID, PredSpecializationOf, g.Parent))
	}
	return out
}

// variableTriples describes every configured or observed variable, sorted
// by id. Observed-only variables get just their type.
func (t *Transformer) variableTriples(obs []model.Observation) []model.Triple {
	seen := map[string]bool{}
	for _, v := range t.cfg.VariableIDs() {
		seen[v] = true
	}
	for _, o := range obs {
		seen[o.Variable] = true
	}
	ids := make([]string, 0, len(seen))
	for v := range seen {
		ids = append(ids, v)
	}
	sort.Strings(ids)

	var out []model.Triple
	for _, id := range ids {
		out = append(out, model.Ref(id, PredTypeOf, TypeStatisticalVariable))
		v, ok := t.cfg.Variables[id]
		if !ok {
			continue
		}
		if v.Name != "" {
			out = append(out, model.Literal(id, PredName, v.Name))
		}
		if v.Description != "" {
			out = append(out, model.Literal(id, PredDescription, v.Description))
		}
		if v.Group != "" {
			out = append(out, model.Ref(id, PredMemberOf, GroupID(v.Group)))
		}
		props := make([]string, 0, len(v.Properties))
		for p := range v.Properties {
			props = append(props, p)
		}
		sort.Strings(props)
		for _, p := range props {
			out = append(out, model.Ref(id, p, v.Properties[p]))
		}
	}
	return out
}

// groupTree serializes the group hierarchy under the root group.
func (t *Transformer) groupTree(groups []*group) (string, error) {
	root := &group{ID: RootGroupID, Name: rootGroupName}
	byID := map[string]*group{RootGroupID: root}
	for _, g := range groups {
		byID[g.ID] = g
	}
	for _, g := range groups {
		parent := byID[g.Parent]
		parent.Children = append(parent.Children, g)
	}

	data, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return artifact.CompressString(data, t.clock)
}
