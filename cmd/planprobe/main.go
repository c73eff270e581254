// Command planprobe shows how a SQL query over a Parquet file is planned and
// executed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"

	"github.com/grafana/planprobe/pkg/probe"
)

func main() {
	app := kingpin.New("planprobe", "Show the logical, optimized and physical plans, EXPLAIN ANALYZE output and timing of a SQL query over Parquet files.")
	app.HelpFlag.Short('h')

	g := registerGlobalFlags(app)
	addRunCommand(app, g)
	addPlansCommand(app, g)
	addExplainCommand(app, g)
	addSchemaCommand(app, g)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		exitWithErr(err)
	}
}

// globalFlags are shared by all commands. Flags override values from the
// config file only when given.
type globalFlags struct {
	configFile string
	tables     map[string]string
	sets       map[string]string
	logLevel   dslog.Level

	query        string
	querySet     bool
	queryFile    string
	queryFileSet bool

	queryTimeout    time.Duration
	queryTimeoutSet bool

	previewColumn            string
	previewColumnSet         bool
	previewMaxRows           int
	previewMaxRowsSet        bool
	previewMaxValueLength    int
	previewMaxValueLengthSet bool
}

func registerGlobalFlags(app *kingpin.Application) *globalFlags {
	g := &globalFlags{tables: map[string]string{}, sets: map[string]string{}}

	app.Flag("config.file", "YAML configuration file.").StringVar(&g.configFile)
	app.Flag("table", "Register a Parquet file as a table, as name=path. Repeatable.").StringMapVar(&g.tables)
	app.Flag("set", "Override an execution option, as key=value. Repeatable.").StringMapVar(&g.sets)
	app.Flag("log.level", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]").Default("warn").SetValue(&g.logLevel)

	app.Flag("query", "SQL query to probe.").IsSetByUser(&g.querySet).StringVar(&g.query)
	app.Flag("query.file", "File to read the SQL query from.").IsSetByUser(&g.queryFileSet).StringVar(&g.queryFile)
	app.Flag("query.timeout", "Timeout of each query execution. 0 disables the timeout.").IsSetByUser(&g.queryTimeoutSet).DurationVar(&g.queryTimeout)
	app.Flag("preview.column", "Result column to preview. Defaults to json_payload.").IsSetByUser(&g.previewColumnSet).StringVar(&g.previewColumn)
	app.Flag("preview.max-rows", "Maximum number of previewed rows. Defaults to 5.").IsSetByUser(&g.previewMaxRowsSet).IntVar(&g.previewMaxRows)
	app.Flag("preview.max-value-length", "Maximum number of characters per previewed value. Defaults to 100.").IsSetByUser(&g.previewMaxValueLengthSet).IntVar(&g.previewMaxValueLength)
	return g
}

// config returns the configuration file overridden by the given flags.
func (g *globalFlags) config() (probe.Config, error) {
	cfg, err := probe.LoadConfig(g.configFile)
	if err != nil {
		return probe.Config{}, failed("config", err)
	}

	for _, name := range slices.Sorted(maps.Keys(g.tables)) {
		cfg.SetTable(name, g.tables[name])
	}
	for _, name := range slices.Sorted(maps.Keys(g.sets)) {
		if err := cfg.SetOption(name, g.sets[name]); err != nil {
			return probe.Config{}, err
		}
	}

	if g.querySet {
		cfg.Query, cfg.QueryFile = g.query, ""
	}
	if g.queryFileSet {
		cfg.QueryFile = g.queryFile
		if !g.querySet {
			cfg.Query = ""
		}
	}
	if g.queryTimeoutSet {
		cfg.QueryTimeout = g.queryTimeout
	}
	if g.previewColumnSet {
		cfg.Preview.Column = g.previewColumn
	}
	if g.previewMaxRowsSet {
		cfg.Preview.MaxRows = g.previewMaxRows
	}
	if g.previewMaxValueLengthSet {
		cfg.Preview.MaxValueLength = g.previewMaxValueLength
	}

	if err := cfg.Validate(); err != nil {
		return probe.Config{}, failed("config", fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}

func (g *globalFlags) logger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, g.logLevel.Option)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// setup builds the session of a command with every configured table
// registered. The caller must close the session.
func (g *globalFlags) setup(ctx context.Context) (probe.Config, *probe.Session, error) {
	cfg, err := g.config()
	if err != nil {
		return probe.Config{}, nil, err
	}
	opts, err := probe.BuildOptions(cfg.Options)
	if err != nil {
		return probe.Config{}, nil, err
	}

	logger := g.logger()
	s, err := probe.NewSession(probe.SessionParams{Logger: logger, QueryTimeout: cfg.QueryTimeout}, opts)
	if err != nil {
		return probe.Config{}, nil, err
	}
	for _, t := range cfg.Tables {
		if err := s.Register(ctx, t.Name, t.Path); err != nil {
			_ = s.Close()
			return probe.Config{}, nil, err
		}
	}
	return cfg, s, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// commandError is a failure outside of the probe stages, labelled with
// the step of the command that failed.
type commandError struct {
	step string
	err  error
}

func failed(step string, err error) error {
	return &commandError{step: step, err: err}
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

// exitWithErr prints err with its failed stage to stderr and exits with
// status 1.
func exitWithErr(err error) {
	writeErr(os.Stderr, err)
	os.Exit(1)
}

func writeErr(w io.Writer, err error) {
	var (
		perr probe.Error
		cerr *commandError
	)
	switch {
	case errors.As(err, &perr):
		errColor.Fprintf(w, "%s failed", perr.Stage())
		fmt.Fprintf(w, " (kind=%s", perr.Kind())
		if id := perr.Identifier(); id != "" {
			fmt.Fprintf(w, " identifier=%q", id)
		}
		fmt.Fprintf(w, "): %v\n", err)
	case errors.As(err, &cerr):
		errColor.Fprintf(w, "%s failed", cerr.step)
		fmt.Fprintf(w, ": %v\n", err)
	default:
		errColor.Fprint(w, "invalid arguments")
		fmt.Fprintf(w, ": %v\n", err)
	}
}
