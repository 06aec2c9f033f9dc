// Package cliargs renders values into shell-safe command-line fragments for
// spawned job processes.
//
// Rendering is deterministic: mapping keys are emitted in sorted order and
// every item is quoted independently, so the spawned process can parse the
// fragments back with a regular shell word splitter.
package cliargs

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
)

// Base64Prefix tags values encoded with the reversible text-safe encoding.
const Base64Prefix = "base64//"

// Choice is implemented by enumerations with a command-line spelling.
type Choice interface {
	ItemToChoice() string
}

type formatOptions struct {
	quote  bool
	skip   bool
	base64 bool
}

// FormatOption adjusts how FormatFlag renders a value.
type FormatOption func(*formatOptions)

// NoQuote renders string values verbatim.
func NoQuote() FormatOption {
	return func(o *formatOptions) { o.quote = false }
}

// Skip suppresses the flag entirely when skip is true.
func Skip(skip bool) FormatOption {
	return func(o *formatOptions) { o.skip = o.skip || skip }
}

// Base64 encodes textual values as Base64Prefix + standard base64.
func Base64() FormatOption {
	return func(o *formatOptions) { o.base64 = true }
}

// FormatFlag renders `flag value`. It returns "" when skipped or when the
// value is empty (nil, false, "", zero, empty slice or map). A true boolean
// renders the bare flag.
func FormatFlag(flag string, value any, opts ...FormatOption) string {
	o := formatOptions{quote: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.skip || isEmpty(value) {
		return ""
	}
	if _, ok := value.(bool); ok {
		return flag
	}
	return flag + " " + formatPositional(value, o)
}

// FormatValue renders a single positional value with the default options.
func FormatValue(value any, opts ...FormatOption) string {
	o := formatOptions{quote: true}
	for _, opt := range opts {
		opt(&o)
	}
	return formatPositional(value, o)
}

// Join concatenates the non-empty fragments with single spaces.
func Join(args ...string) string {
	var b strings.Builder
	for _, arg := range args {
		if arg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(arg)
	}
	return b.String()
}

// EncodeBase64 returns the tagged base64 form of s.
func EncodeBase64(s string) string {
	return Base64Prefix + base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeValue reverses EncodeBase64. Text without the prefix is returned unchanged.
func DecodeValue(s string) (string, error) {
	encoded, ok := strings.CutPrefix(s, Base64Prefix)
	if !ok {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64 argument %q: %w", s, err)
	}
	return string(raw), nil
}

var quotedRe = regexp.MustCompile(`^['"].+['"]`)

// IsQuoted reports whether s already starts and ends with quote characters.
func IsQuoted(s string) bool {
	return quotedRe.MatchString(s)
}

func formatPositional(value any, o formatOptions) string {
	switch v := value.(type) {
	case map[string]string:
		items := make(map[string]any, len(v))
		for k, val := range v {
			items[k] = val
		}
		return formatMapping(items, o)
	case map[string]any:
		return formatMapping(v, o)
	case []string:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatScalar(item, o))
		}
		return Join(parts...)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatScalar(item, o))
		}
		return Join(parts...)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, formatScalar(rv.Index(i).Interface(), o))
		}
		return Join(parts...)
	}
	return formatScalar(value, o)
}

func formatMapping(m map[string]any, o formatOptions) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, quoteItem(k+"="+formatScalar(m[k], o)))
	}
	return Join(parts...)
}

// quoteItem wraps a key=value item so it survives as one shell word. Items
// carrying a single quote are double-quoted, everything else single-quoted.
func quoteItem(s string) string {
	hasSingle := strings.ContainsRune(s, '\'')
	hasDouble := strings.ContainsRune(s, '"')
	unsafe := strings.ContainsAny(s, "\n\r\\$`")
	switch {
	case hasSingle && !hasDouble && !unsafe:
		return `"` + s + `"`
	case !hasSingle:
		return `'` + s + `'`
	default:
		return shellescape.Quote(s)
	}
}

func formatScalar(value any, o formatOptions) string {
	switch v := value.(type) {
	case nil:
		return ""
	case Choice:
		return v.ItemToChoice()
	case string:
		return formatString(v, o)
	case fmt.Stringer:
		return formatString(v.String(), o)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return formatString(fmt.Sprint(v), o)
	}
}

func formatString(s string, o formatOptions) string {
	if o.base64 {
		return EncodeBase64(s)
	}
	if !o.quote || IsQuoted(s) {
		return s
	}
	return shellescape.Quote(s)
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if _, ok := value.(Choice); ok {
		return false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return !rv.Bool()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// TargetSpec identifies one job of the spawned invocation by rule and wildcards.
type TargetSpec struct {
	Rule      string
	Wildcards map[string]string
}

// EncodeTargetJobs renders each spec as `rule:key=value,key=value` with the
// wildcards in key order.
func EncodeTargetJobs(specs []TargetSpec) []string {
	items := make([]string, 0, len(specs))
	for _, spec := range specs {
		keys := make([]string, 0, len(spec.Wildcards))
		for k := range spec.Wildcards {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+spec.Wildcards[k])
		}
		items = append(items, spec.Rule+":"+strings.Join(pairs, ","))
	}
	return items
}
