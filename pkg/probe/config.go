package probe

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v3"

	"github.com/grafana/planprobe/pkg/engine/options"
)

// Config is the configuration of a planprobe invocation. It is read from a
// YAML file and overridden by command-line flags.
type Config struct {
	Tables    []TableConfig  `yaml:"tables"`
	Query     string         `yaml:"query"`
	QueryFile string         `yaml:"query_file"`
	Options   map[string]any `yaml:"options"`

	Preview      PreviewConfig `yaml:"preview"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// TableConfig binds a relation name to a Parquet file.
type TableConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// PreviewConfig configures the result preview.
type PreviewConfig struct {
	Column         string `yaml:"column"`
	MaxRows        int    `yaml:"max_rows"`
	MaxValueLength int    `yaml:"max_value_length"`
}

// RegisterFlagsWithPrefix registers flags for the preview with the given
// prefix.
func (cfg *PreviewConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Column, prefix+"column", "json_payload", "Result column to preview.")
	f.IntVar(&cfg.MaxRows, prefix+"max-rows", 5, "Maximum number of previewed rows.")
	f.IntVar(&cfg.MaxValueLength, prefix+"max-value-length", 100, "Maximum number of characters per previewed value before it is truncated.")
}

// RegisterFlags registers flags and sets defaults.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Query, "query", "", "SQL query to probe.")
	f.StringVar(&cfg.QueryFile, "query.file", "", "File to read the SQL query from.")
	f.DurationVar(&cfg.QueryTimeout, "query.timeout", 0, "Timeout of each query execution. 0 disables the timeout.")
	cfg.Preview.RegisterFlagsWithPrefix("preview.", f)
}

// Validate checks the configuration for errors.
func (cfg *Config) Validate() error {
	var errs []error
	if len(cfg.Tables) == 0 {
		errs = append(errs, errors.New("at least one table is required"))
	}
	seen := make(map[string]struct{}, len(cfg.Tables))
	for i, t := range cfg.Tables {
		if t.Name == "" || t.Path == "" {
			errs = append(errs, fmt.Errorf("table %d: name and path are required", i))
			continue
		}
		if _, ok := seen[t.Name]; ok {
			errs = append(errs, fmt.Errorf("table %s: configured more than once", t.Name))
		}
		seen[t.Name] = struct{}{}
	}
	if cfg.Query != "" && cfg.QueryFile != "" {
		errs = append(errs, errors.New("query and query_file are mutually exclusive"))
	}
	if cfg.Preview.MaxRows < 0 {
		errs = append(errs, errors.New("preview max_rows must not be negative"))
	}
	if cfg.QueryTimeout < 0 {
		errs = append(errs, errors.New("query_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadQuery returns the configured query text, reading QueryFile if set.
func (cfg *Config) LoadQuery() (string, error) {
	query := cfg.Query
	if cfg.QueryFile != "" {
		b, err := os.ReadFile(cfg.QueryFile)
		if err != nil {
			return "", fmt.Errorf("reading query file: %w", err)
		}
		query = string(b)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("no query configured")
	}
	return query, nil
}

// RunParams returns the parameters of a [Run] of query.
func (cfg *Config) RunParams(query string) RunParams {
	return RunParams{
		Query:                 query,
		PreviewColumn:         cfg.Preview.Column,
		PreviewMaxRows:        cfg.Preview.MaxRows,
		PreviewMaxValueLength: cfg.Preview.MaxValueLength,
	}
}

// LoadConfig returns the default configuration overridden by the YAML file
// at path, if path is not empty. Unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	flagext.DefaultValues(&cfg)
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// SetOption overrides a single option with its textual value. Any value
// configured for the same option under its canonical name or alias is
// replaced.
func (cfg *Config) SetOption(name, raw string) error {
	canonical, v, err := ParseOption(name, raw)
	if err != nil {
		return err
	}
	if cfg.Options == nil {
		cfg.Options = make(map[string]any)
	}
	def, _ := options.Lookup(canonical)
	delete(cfg.Options, def.Alias)
	cfg.Options[def.Name] = v
	return nil
}

// SetTable binds name to path, replacing a table configured under the same
// name.
func (cfg *Config) SetTable(name, path string) {
	for i := range cfg.Tables {
		if cfg.Tables[i].Name == name {
			cfg.Tables[i].Path = path
			return
		}
	}
	cfg.Tables = append(cfg.Tables, TableConfig{Name: name, Path: path})
}
