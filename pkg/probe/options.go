package probe

import (
	"github.com/grafana/planprobe/pkg/engine/options"
)

// BuildOptions validates raw option values and returns the immutable option
// set. Keys may be canonical option names or their short aliases, such as
// "pushdown_filters". Errors are [*ConfigError] values.
func BuildOptions(raw map[string]any) (options.Options, error) {
	opts, err := options.New(raw)
	if err != nil {
		return options.Options{}, configError(err)
	}
	return opts, nil
}

// ParseOption parses the textual value of a single option, as given on the
// command line, and returns its canonical name and typed value.
func ParseOption(name, raw string) (string, any, error) {
	def, ok := options.Lookup(name)
	if !ok {
		return "", nil, configError(&options.Error{Name: name, Value: raw, Err: options.ErrUnknownOption})
	}
	v, err := options.ParseValue(name, raw)
	if err != nil {
		return "", nil, configError(err)
	}
	return def.Name, v, nil
}
