// Package options defines the execution options understood by the engine.
//
// Every option has a canonical dotted name, such as
// "execution.parquet.pruning", and a short alias used by configuration files
// and the command line. Option sets are validated once when they are built
// and are immutable afterwards.
package options

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Canonical option names.
const (
	Pruning         = "execution.parquet.pruning"
	EnablePageIndex = "execution.parquet.enable_page_index"
	PushdownFilters = "execution.parquet.pushdown_filters"
	ReorderFilters  = "execution.parquet.reorder_filters"
	BatchSize       = "execution.batch_size"
	ExplainFormat   = "explain.format"
)

// Explain formats accepted by the ExplainFormat option.
const (
	FormatIndent = "indent"
	FormatTree   = "tree"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrTypeMismatch  = errors.New("option type mismatch")
)

// Error is returned when an option set can not be built. It carries the
// name of the offending option as given by the caller.
type Error struct {
	Name  string
	Value any
	Err   error // ErrUnknownOption or ErrTypeMismatch
	msg   string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Err, e.Name, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Name)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind is the value type of an option.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Definition describes a single recognized option.
type Definition struct {
	Name        string
	Alias       string
	Kind        Kind
	Default     any
	Description string

	check func(any) error
}

var definitions = []Definition{
	{
		Name:        Pruning,
		Alias:       "pruning",
		Kind:        KindBool,
		Default:     true,
		Description: "Skip row groups whose column statistics can not satisfy the filter.",
	},
	{
		Name:        EnablePageIndex,
		Alias:       "enable_page_index",
		Kind:        KindBool,
		Default:     true,
		Description: "Read the column and offset index to skip pages that can not satisfy the filter. Requires pruning.",
	},
	{
		Name:        PushdownFilters,
		Alias:       "pushdown_filters",
		Kind:        KindBool,
		Default:     false,
		Description: "Evaluate filter predicates inside the scan instead of in a separate filter operator.",
	},
	{
		Name:        ReorderFilters,
		Alias:       "reorder_filters",
		Kind:        KindBool,
		Default:     false,
		Description: "Order pushed down predicates so that the cheapest and most selective run first.",
	},
	{
		Name:        BatchSize,
		Alias:       "batch_size",
		Kind:        KindInt,
		Default:     int64(8192),
		Description: "Maximum number of rows per record batch produced by scans.",
		check: func(v any) error {
			if v.(int64) <= 0 {
				return errors.New("must be greater than 0")
			}
			return nil
		},
	},
	{
		Name:        ExplainFormat,
		Alias:       "explain_format",
		Kind:        KindString,
		Default:     FormatIndent,
		Description: "Rendering of plans: indent or tree.",
		check: func(v any) error {
			if s := v.(string); s != FormatIndent && s != FormatTree {
				return fmt.Errorf("must be %q or %q, got %q", FormatIndent, FormatTree, s)
			}
			return nil
		},
	},
}

// Definitions returns all recognized options in registration order.
func Definitions() []Definition {
	return slices.Clone(definitions)
}

// Lookup finds the definition of an option by canonical name or alias.
func Lookup(name string) (Definition, bool) {
	for _, def := range definitions {
		if def.Name == name || def.Alias == name {
			return def, true
		}
	}
	return Definition{}, false
}

// Options is an immutable set of option values. The zero value is not
// usable; use [Defaults] or [New].
type Options struct {
	values map[string]any
}

// Defaults returns the option set with every option at its default value.
func Defaults() Options {
	values := make(map[string]any, len(definitions))
	for _, def := range definitions {
		values[def.Name] = def.Default
	}
	return Options{values: values}
}

// New builds an option set from the defaults overridden by the given
// values. Keys may be canonical names or aliases; when both forms of the same
// option are present, the canonical name wins. Keys are validated in sorted
// order so that the reported error is stable.
func New(overrides map[string]any) (Options, error) {
	opts := Defaults()

	keys := slices.Sorted(maps.Keys(overrides))
	// Aliases first so that canonical names override them.
	slices.SortStableFunc(keys, func(a, b string) int {
		return boolRank(strings.Contains(a, ".")) - boolRank(strings.Contains(b, "."))
	})

	for _, key := range keys {
		def, ok := Lookup(key)
		if !ok {
			return Options{}, &Error{Name: key, Value: overrides[key], Err: ErrUnknownOption}
		}
		v, err := coerce(def, overrides[key])
		if err != nil {
			return Options{}, &Error{Name: key, Value: overrides[key], Err: ErrTypeMismatch, msg: err.Error()}
		}
		opts.values[def.Name] = v
	}
	return opts, nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ParseValue converts the textual form of an option value, as given on the
// command line, into a value accepted by [New].
func ParseValue(name, raw string) (any, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, &Error{Name: name, Value: raw, Err: ErrUnknownOption}
	}
	switch def.Kind {
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &Error{Name: name, Value: raw, Err: ErrTypeMismatch, msg: "expected bool"}
		}
		return b, nil
	case KindInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &Error{Name: name, Value: raw, Err: ErrTypeMismatch, msg: "expected int"}
		}
		return i, nil
	default:
		return raw, nil
	}
}

func coerce(def Definition, v any) (any, error) {
	var out any
	switch def.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		out = b
	case KindInt:
		i, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected int, got %T", v)
		}
		out = i
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		out = s
	}
	if def.check != nil {
		if err := def.check(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > 1<<63-1 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

// Bool returns the value of a bool option. It panics if name is not a
// registered bool option.
func (o Options) Bool(name string) bool { return o.get(name).(bool) }

// Int returns the value of an int option.
func (o Options) Int(name string) int64 { return o.get(name).(int64) }

// Text returns the value of a string option.
func (o Options) Text(name string) string { return o.get(name).(string) }

func (o Options) get(name string) any {
	if o.values == nil {
		o = Defaults()
	}
	def, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("options: unknown option %q", name))
	}
	return o.values[def.Name]
}

// Entry is a single option value.
type Entry struct {
	Name  string
	Value any
}

// Entries returns all option values in registration order.
func (o Options) Entries() []Entry {
	entries := make([]Entry, 0, len(definitions))
	for _, def := range definitions {
		entries = append(entries, Entry{Name: def.Name, Value: o.get(def.Name)})
	}
	return entries
}

// Pruning reports whether row group pruning is enabled.
func (o Options) Pruning() bool { return o.Bool(Pruning) }

// PageIndex reports whether page index pruning is enabled. Page index
// pruning only takes effect together with [Options.Pruning].
func (o Options) PageIndex() bool { return o.Bool(EnablePageIndex) }

// PushdownFilters reports whether filters are evaluated by the scan.
func (o Options) PushdownFilters() bool { return o.Bool(PushdownFilters) }

// ReorderFilters reports whether pushed down filters are reordered.
func (o Options) ReorderFilters() bool { return o.Bool(ReorderFilters) }
