// Package engine ties the SQL frontend, the planners and the executor
// together into a single-process query engine over registered Parquet
// tables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/planprobe/pkg/engine/internal/executor"
	"github.com/grafana/planprobe/pkg/engine/internal/tree"
	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
	"github.com/grafana/planprobe/pkg/engine/source"
	"github.com/grafana/planprobe/pkg/engine/sql"
)

var (
	// ErrTableExists is returned when registering a table under a name that
	// is already taken.
	ErrTableExists = errors.New("table already registered")

	// ErrOptimizationFailed is returned when the logical optimizer rejects a
	// plan.
	ErrOptimizationFailed = errors.New("logical optimization failed")

	// ErrPlanningFailed is returned when a logical plan can not be converted
	// into a physical plan.
	ErrPlanningFailed = errors.New("physical planning failed")

	// ErrExecutionFailed is returned when a physical plan fails while
	// running.
	ErrExecutionFailed = errors.New("query execution failed")
)

var tracer = otel.Tracer("pkg/engine")

// Params holds parameters for constructing a new [Engine].
type Params struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional metrics.

	Options   options.Options  // Execution options. The zero value uses the defaults.
	FS        afero.Fs         // Filesystem tables are read from. Defaults to the OS filesystem.
	Allocator memory.Allocator // Allocator for result records. Defaults to the Go allocator.

	// Prefetch decodes the next scan batch while the current one is
	// processed.
	Prefetch bool
}

// validate validates p and applies defaults.
func (p *Params) validate() error {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.FS == nil {
		p.FS = afero.NewOsFs()
	}
	if p.Allocator == nil {
		p.Allocator = memory.DefaultAllocator
	}
	if size := p.Options.Int(options.BatchSize); size <= 0 {
		return fmt.Errorf("invalid batch size for query engine. must be greater than 0, got %d", size)
	}
	return nil
}

// Engine executes SQL over registered Parquet tables. Planning methods are
// safe for concurrent use; tables may be registered at any time.
type Engine struct {
	logger  log.Logger
	metrics *metrics

	opts     options.Options
	fs       afero.Fs
	alloc    memory.Allocator
	prefetch bool

	mtx    sync.RWMutex
	tables map[string]*source.Relation
}

// New creates a new Engine.
func New(params Params) (*Engine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	return &Engine{
		logger:  params.Logger,
		metrics: newMetrics(params.Registerer),

		opts:     params.Options,
		fs:       params.FS,
		alloc:    params.Allocator,
		prefetch: params.Prefetch,

		tables: make(map[string]*source.Relation),
	}, nil
}

// Options returns the execution options of the engine.
func (e *Engine) Options() options.Options { return e.opts }

// RegisterParquet opens the Parquet file at uri and registers it as table
// name. Registering an existing name returns [ErrTableExists] and leaves the
// existing table untouched.
func (e *Engine) RegisterParquet(ctx context.Context, name, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	if _, ok := e.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	start := time.Now()
	rel, err := source.Open(e.fs, uri)
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to register table", "table", name, "uri", uri, "err", err)
		return fmt.Errorf("registering table %s: %w", name, err)
	}
	e.tables[name] = rel

	stats := rel.Statistics()
	level.Info(e.logger).Log(
		"msg", "registered table",
		"table", name,
		"location", rel.Location(),
		"rows", stats.NumRows,
		"row_groups", rel.NumRowGroups(),
		"duration", time.Since(start).String(),
	)
	return nil
}

// Relation returns the table registered as name.
func (e *Engine) Relation(name string) (*source.Relation, error) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	rel, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sql.ErrTableNotFound, name)
	}
	return rel, nil
}

// Tables returns the sorted names of all registered tables.
func (e *Engine) Tables() []string {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	return slices.Sorted(maps.Keys(e.tables))
}

// table resolves a table referenced in SQL text: an exact match wins over a
// case-insensitive one.
func (e *Engine) table(name string) (sql.Table, bool) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	rel, ok := e.tables[name]
	if !ok {
		for _, n := range slices.Sorted(maps.Keys(e.tables)) {
			if strings.EqualFold(n, name) {
				name, rel, ok = n, e.tables[n], true
				break
			}
		}
	}
	if !ok {
		return sql.Table{}, false
	}
	return sql.Table{Name: name, Location: rel.Location(), Schema: rel.Schema()}, true
}

// Parse parses a single statement and builds the unoptimized logical plan
// of its query. Errors are [*sql.Error] values.
func (e *Engine) Parse(ctx context.Context, text string) (*sql.Statement, error) {
	_, span := tracer.Start(ctx, "Engine.Parse", trace.WithAttributes(
		attribute.String("query", text),
	))
	defer span.End()

	timer := prometheus.NewTimer(e.metrics.logicalPlanning)

	stmt, err := sql.Parse(text, sql.CatalogFunc(e.table))
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to create logical plan", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create logical plan")
		return nil, err
	}

	duration := timer.ObserveDuration()
	span.SetAttributes(attribute.Stringer("kind", stmt.Kind))
	span.AddEvent("finished logical planning", trace.WithAttributes(
		attribute.Stringer("plan", stmt.Plan),
		attribute.Stringer("duration", duration),
	))
	span.SetStatus(codes.Ok, "")
	level.Info(e.logger).Log(
		"msg", "finished logical planning",
		"kind", stmt.Kind,
		"duration", duration.String(),
	)
	level.Debug(e.logger).Log("msg", "logical plan", "plan", stmt.Plan.String())
	return stmt, nil
}

// Optimize runs the logical optimizer over plan. The input plan is not
// modified.
func (e *Engine) Optimize(ctx context.Context, plan *logical.Plan) (*logical.Plan, error) {
	_, span := tracer.Start(ctx, "Engine.Optimize")
	defer span.End()

	if plan == nil || plan.Root == nil {
		err := fmt.Errorf("%w: empty logical plan", ErrOptimizationFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to optimize logical plan")
		return nil, err
	}
	timer := prometheus.NewTimer(e.metrics.optimization)

	optimized := logical.Optimize(plan)

	duration := timer.ObserveDuration()
	span.AddEvent("finished logical optimization", trace.WithAttributes(
		attribute.Stringer("plan", optimized),
		attribute.Stringer("duration", duration),
	))
	span.SetStatus(codes.Ok, "")
	level.Info(e.logger).Log("msg", "finished logical optimization", "duration", duration.String())
	level.Debug(e.logger).Log("msg", "optimized logical plan", "plan", optimized.String())
	return optimized, nil
}

// CreatePhysicalPlan converts an optimized logical plan into a physical
// plan and applies the option-dependent physical optimizations.
func (e *Engine) CreatePhysicalPlan(ctx context.Context, plan *logical.Plan) (*physical.Plan, error) {
	_, span := tracer.Start(ctx, "Engine.CreatePhysicalPlan")
	defer span.End()

	timer := prometheus.NewTimer(e.metrics.physicalPlanning)

	planner := physical.NewPlanner(e.opts)
	physicalPlan, err := planner.Build(plan)
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to create physical plan", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create physical plan")
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}
	span.AddEvent("built physical plan")

	physicalPlan, err = planner.Optimize(physicalPlan)
	if err != nil {
		level.Warn(e.logger).Log("msg", "failed to optimize physical plan", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to optimize physical plan")
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	duration := timer.ObserveDuration()
	span.AddEvent("finished physical planning", trace.WithAttributes(attribute.Stringer("duration", duration)))
	span.SetStatus(codes.Ok, "")
	level.Info(e.logger).Log("msg", "finished physical planning", "duration", duration.String())
	level.Debug(e.logger).Log("msg", "physical plan", "plan", physicalPlan.String())
	return physicalPlan, nil
}

// Collect executes plan and collects all of its records.
func (e *Engine) Collect(ctx context.Context, plan *physical.Plan) (*Result, error) {
	return e.collect(ctx, plan, nil)
}

func (e *Engine) collect(ctx context.Context, plan *physical.Plan, metrics *executor.MetricsSet) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Collect", trace.WithAttributes(
		attribute.Bool("analyze", metrics != nil),
	))
	defer span.End()

	if plan == nil {
		err := fmt.Errorf("%w: plan is nil", ErrExecutionFailed)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	root, err := plan.Root()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid physical plan")
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	timer := prometheus.NewTimer(e.metrics.execution)
	cfg := executor.Config{
		Catalog:   e,
		Allocator: e.alloc,
		Metrics:   metrics,
		Prefetch:  e.prefetch,
	}
	pipeline := executor.Run(ctx, cfg, plan, e.logger)
	defer pipeline.Close()

	records, err := executor.Collect(ctx, pipeline)
	if err != nil {
		e.metrics.queries.WithLabelValues(statusFailure).Inc()
		level.Warn(e.logger).Log("msg", "error during execution", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "error during query execution")
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	result := &Result{Schema: root.Schema(), Records: records}
	duration := timer.ObserveDuration()
	span.AddEvent("finished execution", trace.WithAttributes(
		attribute.Int64("rows", result.NumRows()),
		attribute.Int("batches", len(records)),
		attribute.Stringer("duration", duration),
	))
	span.SetStatus(codes.Ok, "")
	e.metrics.queries.WithLabelValues(statusSuccess).Inc()
	e.metrics.rows.Add(float64(result.NumRows()))
	level.Info(e.logger).Log(
		"msg", "finished execution",
		"rows", result.NumRows(),
		"batches", len(records),
		"duration", duration.String(),
	)
	return result, nil
}

// SQL runs a single statement. SELECT statements return their rows;
// EXPLAIN and EXPLAIN ANALYZE return a plan_type and plan column, see
// [Engine.Explain].
func (e *Engine) SQL(ctx context.Context, text string) (*Result, error) {
	stmt, err := e.Parse(ctx, text)
	if err != nil {
		return nil, err
	}

	switch stmt.Kind {
	case sql.KindExplain:
		return e.Explain(ctx, stmt.Plan, false)
	case sql.KindExplainAnalyze:
		return e.Explain(ctx, stmt.Plan, true)
	}

	optimized, err := e.Optimize(ctx, stmt.Plan)
	if err != nil {
		return nil, err
	}
	physicalPlan, err := e.CreatePhysicalPlan(ctx, optimized)
	if err != nil {
		return nil, err
	}
	return e.Collect(ctx, physicalPlan)
}

// FormatLogical renders plan in the format selected by the explain.format
// option.
func (e *Engine) FormatLogical(plan *logical.Plan) string {
	return plan.Format(e.format())
}

// FormatPhysical renders plan in the format selected by the explain.format
// option.
func (e *Engine) FormatPhysical(plan *physical.Plan) string {
	return plan.Format(e.format(), nil)
}

func (e *Engine) format() tree.Format {
	return tree.Format(e.opts.Text(options.ExplainFormat))
}

// Close closes all registered tables.
func (e *Engine) Close() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	var errs multierror.MultiError
	for _, name := range slices.Sorted(maps.Keys(e.tables)) {
		if err := e.tables[name].Close(); err != nil {
			errs.Add(fmt.Errorf("closing table %s: %w", name, err))
		}
	}
	clear(e.tables)
	return errs.Err()
}
