// Package settings describes the configuration a backend plugin exposes.
//
// A plugin declares its options once as a Schema: an ordered list of fields,
// each with a type tag, a default, a help string and optional choices. The
// same Schema drives both the command-line registration and the
// reconstruction of a Record from parsed values, so no reflection over
// plugin structs is needed to build the CLI.
package settings

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"
)

// Type is the value kind of a settings field.
type Type int

const (
	String Type = iota
	Int
	Float
	Bool
	StringSlice
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case StringSlice:
		return "stringSlice"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Field describes a single executor setting.
type Field struct {
	// Name is the field name without any plugin prefix, e.g. "submit_cmd".
	// Dashes and underscores are interchangeable.
	Name string
	Type Type
	// Default is used when the user supplies no value. It must be nil for
	// required fields and of the Go type matching Type otherwise
	// (string, int, float64, bool, []string).
	Default  any
	Help     string
	Required bool
	// Choices restricts accepted values (compared by their string form).
	Choices []string
	// EnvVar enables the SNAKEMAKE_<PLUGIN>_<FIELD> environment fallback.
	EnvVar bool
}

// Key returns the canonical (underscore) form of the field name.
func (f Field) Key() string {
	return CanonicalName(f.Name)
}

// Schema is the ordered set of fields a plugin accepts.
type Schema struct {
	Fields []Field
}

// CanonicalName lowercases a setting name and turns dashes into underscores.
func CanonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	key := CanonicalName(name)
	for _, f := range s.Fields {
		if f.Key() == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks that every field is well formed: unique name, help text,
// a default of the right type unless the field is required, and a default
// that is one of the declared choices.
func (s *Schema) Validate() error {
	if s == nil {
		return nil
	}
	var errs []error
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		key := f.Key()
		if key == "" {
			errs = append(errs, errors.New("field with empty name"))
			continue
		}
		if _, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("field %q declared twice", key))
		}
		seen[key] = struct{}{}

		if strings.TrimSpace(f.Help) == "" {
			errs = append(errs, fmt.Errorf("field %q has no help text", key))
		}
		if f.Type < String || f.Type > StringSlice {
			errs = append(errs, fmt.Errorf("field %q has unknown type %s", key, f.Type))
			continue
		}
		if f.Required {
			if f.Default != nil {
				errs = append(errs, fmt.Errorf("field %q is required and must not declare a default", key))
			}
			continue
		}
		if f.Default == nil {
			errs = append(errs, fmt.Errorf("field %q has no default and is not marked required", key))
			continue
		}
		if !f.Type.matches(f.Default) {
			errs = append(errs, fmt.Errorf("field %q default %v is not of type %s", key, f.Default, f.Type))
			continue
		}
		if len(f.Choices) > 0 && !f.allows(f.Default) {
			errs = append(errs, fmt.Errorf("field %q default %v is not one of %v", key, f.Default, f.Choices))
		}
	}
	return errors.Join(errs...)
}

// ValueError reports a supplied value that cannot be used for a field.
type ValueError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value %v for setting %s: %s", e.Value, e.Field, e.Reason)
}

// Coerce converts a supplied raw value (a string from the environment or a
// typed value from a parsed flag) into the field's Go type and checks it
// against the field's choices.
func (f Field) Coerce(raw any) (any, error) {
	var (
		v   any
		err error
	)
	switch f.Type {
	case String:
		if _, ok := raw.(string); !ok {
			return nil, &ValueError{Field: f.Key(), Value: raw, Reason: "expected a string"}
		}
		v = raw
	case Int:
		v, err = cast.ToIntE(raw)
	case Float:
		v, err = cast.ToFloat64E(raw)
	case Bool:
		v, err = cast.ToBoolE(raw)
	case StringSlice:
		v, err = cast.ToStringSliceE(raw)
	}
	if err != nil {
		return nil, &ValueError{Field: f.Key(), Value: raw, Reason: fmt.Sprintf("not a valid %s", f.Type)}
	}
	if len(f.Choices) > 0 && !f.allows(v) {
		return nil, &ValueError{Field: f.Key(), Value: raw, Reason: fmt.Sprintf("must be one of %s", strings.Join(f.Choices, ", "))}
	}
	return v, nil
}

func (f Field) allows(v any) bool {
	if items, ok := v.([]string); ok {
		for _, item := range items {
			if !slices.Contains(f.Choices, item) {
				return false
			}
		}
		return true
	}
	return slices.Contains(f.Choices, cast.ToString(v))
}

func (t Type) matches(v any) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Int:
		_, ok := v.(int)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case StringSlice:
		_, ok := v.([]string)
		return ok
	}
	return false
}
