package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dcstats/internal/failure"
)

// Table names.
const (
	TableObservations  = "observations"
	TableTriples       = "triples"
	TableKeyValueStore = "key_value_store"
)

// Tables lists all store tables in export order.
var Tables = []string{TableObservations, TableTriples, TableKeyValueStore}

// ObservationFields is the fixed, ordered observation column set.
var ObservationFields = []string{
	"entity",
	"variable",
	"date",
	"value",
	"provenance",
	"unit",
	"scaling_factor",
	"measurement_method",
	"observation_period",
	"properties",
}

// TripleFields is the fixed, ordered triple column set.
var TripleFields = []string{"subject_id", "predicate", "object_id", "object_value"}

// KeyValueFields is the fixed, ordered key-value column set.
var KeyValueFields = []string{"lookup_key", "value"}

// FieldsOf returns the column set of a table, or nil for unknown tables.
func FieldsOf(table string) []string {
	switch table {
	case TableObservations:
		return ObservationFields
	case TableTriples:
		return TripleFields
	case TableKeyValueStore:
		return KeyValueFields
	}
	return nil
}

// Observation is a single statistical datapoint.
type Observation struct {
	Entity            string
	Variable          string
	Date              string
	Value             string
	Provenance        string
	Unit              string
	ScalingFactor     string
	MeasurementMethod string
	ObservationPeriod string
	Properties        string
}

// Fields returns the observation's values in ObservationFields order.
func (o Observation) Fields() []string {
	return []string{
		o.Entity,
		o.Variable,
		o.Date,
		o.Value,
		o.Provenance,
		o.Unit,
		o.ScalingFactor,
		o.MeasurementMethod,
		o.ObservationPeriod,
		o.Properties,
	}
}

// ObservationFromFields builds an Observation from positional values.
func ObservationFromFields(f []string) (Observation, error) {
	if err := checkWidth(f, ObservationFields); err != nil {
		return Observation{}, err
	}
	return Observation{
		Entity:            f[0],
		Variable:          f[1],
		Date:              f[2],
		Value:             f[3],
		Provenance:        f[4],
		Unit:              f[5],
		ScalingFactor:     f[6],
		MeasurementMethod: f[7],
		ObservationPeriod: f[8],
		Properties:        f[9],
	}, nil
}

// Numeric reports the value as a float when it parses as one.
func (o Observation) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(o.Value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Validate checks the required fields: entity, variable, date and value.
func (o Observation) Validate() error {
	switch {
	case o.Entity == "":
		return failure.Invalid("entity", "must not be empty")
	case o.Variable == "":
		return failure.Invalid("variable", "must not be empty")
	case o.Date == "":
		return failure.Invalid("date", "must not be empty")
	case o.Value == "":
		return failure.Invalid("value", "must not be empty")
	}
	if o.Properties != "" {
		var props map[string]string
		if err := json.Unmarshal([]byte(o.Properties), &props); err != nil {
			return failure.Invalid("properties", "must be a JSON object of strings")
		}
	}
	return nil
}

// Normalize returns o with every text field trimmed and NFC-normalized.
func (o Observation) Normalize() Observation {
	n, _ := ObservationFromFields(normalizeAll(o.Fields()))
	return n
}

// Triple is a subject/predicate/object fact. Exactly one of ObjectID and
// ObjectValue is set: ObjectID for references into the identifier space,
// ObjectValue for literals.
type Triple struct {
	SubjectID   string
	Predicate   string
	ObjectID    string
	ObjectValue string
}

// Fields returns the triple's values in TripleFields order.
func (t Triple) Fields() []string {
	return []string{t.SubjectID, t.Predicate, t.ObjectID, t.ObjectValue}
}

// TripleFromFields builds a Triple from positional values.
func TripleFromFields(f []string) (Triple, error) {
	if err := checkWidth(f, TripleFields); err != nil {
		return Triple{}, err
	}
	return Triple{SubjectID: f[0], Predicate: f[1], ObjectID: f[2], ObjectValue: f[3]}, nil
}

// Validate checks required fields and object exclusivity.
func (t Triple) Validate() error {
	switch {
	case t.SubjectID == "":
		return failure.Invalid("subject_id", "must not be empty")
	case t.Predicate == "":
		return failure.Invalid("predicate", "must not be empty")
	case t.ObjectID != "" && t.ObjectValue != "":
		return failure.Invalid("object_id", "object_id and object_value are mutually exclusive")
	case t.ObjectID == "" && t.ObjectValue == "":
		return failure.Invalid("object_id", "one of object_id or object_value is required")
	}
	return nil
}

// Normalize returns t with every text field trimmed and NFC-normalized.
func (t Triple) Normalize() Triple {
	n, _ := TripleFromFields(normalizeAll(t.Fields()))
	return n
}

// Ref builds a triple whose object is an id.
func Ref(subject, predicate, objectID string) Triple {
	return Triple{SubjectID: subject, Predicate: predicate, ObjectID: objectID}
}

// Literal builds a triple whose object is a value.
func Literal(subject, predicate, value string) Triple {
	return Triple{SubjectID: subject, Predicate: predicate, ObjectValue: value}
}

// KeyValue is an opaque lookup entry.
type KeyValue struct {
	LookupKey string
	Value     string
}

// Fields returns the entry's values in KeyValueFields order.
func (kv KeyValue) Fields() []string {
	return []string{kv.LookupKey, kv.Value}
}

// KeyValueFromFields builds a KeyValue from positional values.
func KeyValueFromFields(f []string) (KeyValue, error) {
	if err := checkWidth(f, KeyValueFields); err != nil {
		return KeyValue{}, err
	}
	return KeyValue{LookupKey: f[0], Value: f[1]}, nil
}

// Validate checks the lookup key.
func (kv KeyValue) Validate() error {
	if kv.LookupKey == "" {
		return failure.Invalid("lookup_key", "must not be empty")
	}
	return nil
}

// ValidateKeyValues validates each entry and rejects duplicate keys within
// one load. The reported index is the 1-based position of the offending
// entry.
func ValidateKeyValues(kvs []KeyValue) error {
	seen := make(map[string]int, len(kvs))
	for i, kv := range kvs {
		if err := kv.Validate(); err != nil {
			return asValidation(err).At("", i+1)
		}
		if first, ok := seen[kv.LookupKey]; ok {
			return failure.Invalid("lookup_key",
				fmt.Sprintf("duplicate key %q (first at record %d)", kv.LookupKey, first)).At("", i+1)
		}
		seen[kv.LookupKey] = i + 1
	}
	return nil
}

// Records is the fully materialized output of one run.
type Records struct {
	Observations []Observation
	Triples      []Triple
	KeyValues    []KeyValue
}

// Validate checks every record. The first failure is returned with its
// 1-based position inside its slice.
func (r *Records) Validate() error {
	for i, o := range r.Observations {
		if err := o.Validate(); err != nil {
			return asValidation(err).At(TableObservations, i+1)
		}
	}
	for i, t := range r.Triples {
		if err := t.Validate(); err != nil {
			return asValidation(err).At(TableTriples, i+1)
		}
	}
	if err := ValidateKeyValues(r.KeyValues); err != nil {
		return asValidation(err).At(TableKeyValueStore, 0)
	}
	return nil
}

// EncodeProperties renders a property map as a JSON object with sorted
// keys. An empty map encodes as the empty string.
func EncodeProperties(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteJSON(k))
		b.WriteByte(':')
		b.WriteString(quoteJSON(props[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// quoteJSON encodes s as a JSON string without HTML escaping.
func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

func checkWidth(f, want []string) error {
	if len(f) != len(want) {
		return failure.Invalid("", fmt.Sprintf("expected %d fields (%s), got %d",
			len(want), strings.Join(want, ","), len(f)))
	}
	return nil
}

func normalizeAll(f []string) []string {
	out := make([]string, len(f))
	for i, s := range f {
		out[i] = norm.NFC.String(strings.TrimSpace(s))
	}
	return out
}

func asValidation(err error) *failure.ValidationError {
	if ve, ok := err.(*failure.ValidationError); ok {
		return ve
	}
	return &failure.ValidationError{Reason: err.Error()}
}
