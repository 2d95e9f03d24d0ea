package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/dcstats/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleRecords returns a small record set touching every table.
func sampleRecords() *model.Records {
	return &model.Records{
		Observations: []model.Observation{
			{Entity: "country/USA", Variable: "Count_Person", Date: "2020", Value: "331000000", Provenance: "c/p/1"},
			{Entity: "country/IND", Variable: "Count_Person", Date: "2020", Value: "1380000000", Provenance: "c/p/1", Unit: "Person"},
			{Entity: "country/CHN", Variable: "Count_Person", Date: "2020", Value: "1402000000", Properties: `{"note":"it's \"estimated\""}`},
		},
		Triples: []model.Triple{
			model.Ref("Count_Person", "typeOf", "StatisticalVariable"),
			model.Literal("Count_Person", "name", "Population, O'Brien \"count\""),
		},
		KeyValues: []model.KeyValue{
			{LookupKey: "StatVarGroups", Value: "H4sIAAAAAAAA/w=="},
		},
	}
}
