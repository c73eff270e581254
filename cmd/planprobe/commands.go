package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/grafana/planprobe/pkg/probe"
)

// runCommand prints the full report of the configured query.
type runCommand struct {
	flags *globalFlags
}

func (cmd *runCommand) run(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, s, err := cmd.flags.setup(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	query, err := cfg.LoadQuery()
	if err != nil {
		return failed("query", err)
	}
	report, err := probe.Run(ctx, s, cfg.RunParams(query))
	if err != nil {
		return err
	}
	renderReport(os.Stdout, report, cfg.Preview.MaxValueLength)
	return nil
}

func addRunCommand(app *kingpin.Application, flags *globalFlags) {
	cmd := &runCommand{flags: flags}
	app.Command("run", "Run EXPLAIN ANALYZE and the query, then print the preview and all plans.").Default().Action(cmd.run)
}

// plansCommand prints the plans of the configured query without running
// it.
type plansCommand struct {
	flags *globalFlags
}

func (cmd *plansCommand) run(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, s, err := cmd.flags.setup(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	query, err := cfg.LoadQuery()
	if err != nil {
		return failed("query", err)
	}
	logical, err := probe.Compile(ctx, s, query)
	if err != nil {
		return err
	}
	optimized, err := probe.Optimize(ctx, s, logical)
	if err != nil {
		return err
	}
	physical, err := probe.Physicalize(ctx, s, optimized)
	if err != nil {
		return err
	}
	renderPlans(os.Stdout, logical.String(), optimized.String(), physical.String())
	return nil
}

func addPlansCommand(app *kingpin.Application, flags *globalFlags) {
	cmd := &plansCommand{flags: flags}
	app.Command("plans", "Print the logical, optimized logical and physical plans without running the query.").Action(cmd.run)
}

// explainCommand prints the EXPLAIN ANALYZE output of the configured query.
type explainCommand struct {
	flags *globalFlags
}

func (cmd *explainCommand) run(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, s, err := cmd.flags.setup(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	query, err := cfg.LoadQuery()
	if err != nil {
		return failed("query", err)
	}
	records, err := probe.ExplainAnalyze(ctx, s, query)
	if err != nil {
		return err
	}
	renderExplain(os.Stdout, records)
	return nil
}

func addExplainCommand(app *kingpin.Application, flags *globalFlags) {
	cmd := &explainCommand{flags: flags}
	app.Command("explain", "Print the EXPLAIN ANALYZE output of the query.").Action(cmd.run)
}

// schemaCommand prints the schema and statistics of registered tables.
type schemaCommand struct {
	flags  *globalFlags
	tables *[]string
}

func (cmd *schemaCommand) run(_ *kingpin.ParseContext) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, s, err := cmd.flags.setup(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	names := *cmd.tables
	if len(names) == 0 {
		names = s.Tables()
	}
	if len(names) == 0 {
		return failed("schema", errors.New("no tables registered"))
	}
	for _, name := range names {
		rel, err := s.Relation(name)
		if err != nil {
			return failed("schema", fmt.Errorf("table %s: %w", name, err))
		}
		renderSchema(os.Stdout, name, rel)
	}
	return nil
}

func addSchemaCommand(app *kingpin.Application, flags *globalFlags) {
	cmd := &schemaCommand{flags: flags}
	schema := app.Command("schema", "Print the schema, row groups and column statistics of registered tables.").Action(cmd.run)
	cmd.tables = schema.Arg("table", "Tables to print. Defaults to all registered tables.").Strings()
}
