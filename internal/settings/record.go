package settings

import (
	"encoding/csv"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// Record is an immutable set of executor settings values built from a Schema.
type Record struct {
	schema   *Schema
	values   map[string]any
	supplied map[string]bool
}

// Empty returns the record of a plugin that declares no settings.
func Empty() *Record {
	return &Record{values: map[string]any{}, supplied: map[string]bool{}}
}

// NewRecord builds a record from supplied values keyed by field name.
// Fields not present in supplied take the schema default. Supplied values
// are coerced to the field type; unknown names are rejected.
func NewRecord(schema *Schema, supplied map[string]any) (*Record, error) {
	if schema == nil {
		if len(supplied) > 0 {
			return nil, fmt.Errorf("settings supplied for a plugin without a settings schema")
		}
		return Empty(), nil
	}

	r := &Record{
		schema:   schema,
		values:   make(map[string]any, len(schema.Fields)),
		supplied: make(map[string]bool, len(supplied)),
	}
	for name, raw := range supplied {
		f, ok := schema.Field(name)
		if !ok {
			return nil, fmt.Errorf("unknown setting %q", name)
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, err
		}
		r.values[f.Key()] = v
		r.supplied[f.Key()] = true
	}
	for _, f := range schema.Fields {
		if _, ok := r.values[f.Key()]; ok {
			continue
		}
		if f.Required {
			// Left unset; callers that build records from user input
			// enforce presence before getting here.
			continue
		}
		r.values[f.Key()] = cloneValue(f.Default)
	}
	return r, nil
}

// Schema returns the schema the record was built from, nil for Empty.
func (r *Record) Schema() *Schema {
	return r.schema
}

// Get returns the value of a field and whether it is set.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[CanonicalName(name)]
	return cloneValue(v), ok
}

// Supplied reports whether the value came from the user rather than the default.
func (r *Record) Supplied(name string) bool {
	return r.supplied[CanonicalName(name)]
}

func (r *Record) String(name string) string {
	v, _ := r.values[CanonicalName(name)].(string)
	return v
}

func (r *Record) Int(name string) int {
	v, _ := r.values[CanonicalName(name)].(int)
	return v
}

func (r *Record) Float(name string) float64 {
	v, _ := r.values[CanonicalName(name)].(float64)
	return v
}

func (r *Record) Bool(name string) bool {
	v, _ := r.values[CanonicalName(name)].(bool)
	return v
}

func (r *Record) StringSlice(name string) []string {
	v, _ := r.values[CanonicalName(name)].([]string)
	return slices.Clone(v)
}

// Values returns a copy of all set values keyed by canonical field name.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal reports whether both records hold the same values.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return maps.EqualFunc(r.values, other.values, func(a, b any) bool {
		return reflect.DeepEqual(a, b)
	})
}

// Decode copies the record into a plugin-owned struct. Struct fields are
// matched through the `setting` tag, e.g. `setting:"submit_cmd"`.
func (r *Record) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "setting",
		Result:      out,
		ErrorUnused: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := dec.Decode(r.Values()); err != nil {
		return fmt.Errorf("failed to decode settings: %w", err)
	}
	return nil
}

// Args renders the supplied values as `--<prefix>-<field>=<value>` flags in
// schema order. Fields left at their default are omitted.
func (r *Record) Args(prefix string) []string {
	if r.schema == nil {
		return nil
	}
	var args []string
	for _, f := range r.schema.Fields {
		key := f.Key()
		if !r.supplied[key] {
			continue
		}
		flag := "--" + strings.ReplaceAll(prefix+"_"+key, "_", "-")
		var value string
		if items, ok := r.values[key].([]string); ok {
			value = csvRecord(items)
		} else {
			value = cast.ToString(r.values[key])
		}
		args = append(args, flag+"="+value)
	}
	return args
}

// csvRecord writes items the way pflag reads string slices back.
func csvRecord(items []string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write(items)
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

func cloneValue(v any) any {
	if s, ok := v.([]string); ok {
		return slices.Clone(s)
	}
	return v
}
