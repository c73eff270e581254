// Package executor runs physical plans as pipelines of Arrow records.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/planprobe/pkg/engine/planner/physical"
	"github.com/grafana/planprobe/pkg/engine/source"
)

var tracer = otel.Tracer("pkg/engine/internal/executor")

// Catalog resolves the relations read by scan nodes.
type Catalog interface {
	Relation(table string) (*source.Relation, error)
}

type Config struct {
	Catalog   Catalog
	Allocator memory.Allocator
	// Metrics receives the metrics of every operator, keyed by node ID. Nil
	// disables metrics collection.
	Metrics *MetricsSet
	// Prefetch reads the next scan batch in a separate goroutine.
	Prefetch bool
}

// Run creates the pipeline for the root of plan. The pipeline is built
// eagerly; scans open their readers on first read.
func Run(ctx context.Context, cfg Config, plan *physical.Plan, logger log.Logger) Pipeline {
	if cfg.Allocator == nil {
		cfg.Allocator = memory.DefaultAllocator
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Context{
		plan:      plan,
		catalog:   cfg.Catalog,
		metrics:   cfg.Metrics,
		prefetch:  cfg.Prefetch,
		logger:    logger,
		evaluator: newExpressionEvaluator(cfg.Allocator),
	}
	if plan == nil {
		return errorPipeline(ctx, errors.New("plan is nil"))
	}
	if cfg.Catalog == nil {
		return errorPipeline(ctx, errors.New("catalog is nil"))
	}
	node, err := plan.Root()
	if err != nil {
		return errorPipeline(ctx, err)
	}
	return c.execute(ctx, node)
}

// Context is the execution context
type Context struct {
	logger    log.Logger
	plan      *physical.Plan
	catalog   Catalog
	metrics   *MetricsSet
	prefetch  bool
	evaluator expressionEvaluator
}

func (c *Context) operatorMetrics(n physical.Node) *OperatorMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Operator(n.ID())
}

func (c *Context) execute(ctx context.Context, node physical.Node) Pipeline {
	children := c.plan.Children(node)
	inputs := make([]Pipeline, 0, len(children))
	for _, child := range children {
		inputs = append(inputs, c.execute(ctx, child))
	}

	metrics := c.operatorMetrics(node)
	var pipeline Pipeline
	switch n := node.(type) {
	case *physical.ParquetScan:
		pipeline = newLazyPipeline(func(ctx context.Context, _ []Pipeline) Pipeline {
			return c.executeParquetScan(ctx, n, metrics)
		}, inputs)
	case *physical.Limit:
		pipeline = c.executeLimit(ctx, n, inputs)
	case *physical.Filter:
		pipeline = c.executeFilter(ctx, n, inputs)
	case *physical.Projection:
		pipeline = c.executeProjection(ctx, n, inputs)
	default:
		return errorPipeline(ctx, fmt.Errorf("invalid node type: %T", node), inputs...)
	}
	return tracePipeline(node.Type().String(), meterPipeline(metrics, pipeline))
}

func (c *Context) executeParquetScan(ctx context.Context, node *physical.ParquetScan, metrics *OperatorMetrics) Pipeline {
	ctx, span := tracer.Start(ctx, "Context.executeParquetScan", trace.WithAttributes(
		attribute.String("table", node.Table),
		attribute.String("location", node.Location),
		attribute.StringSlice("projection", node.Projection),
		attribute.Int("num_predicates", len(node.Predicates)),
		attribute.Int("num_pruning_predicates", len(node.PruningPredicates)),
		attribute.Bool("page_index", node.PageIndex),
	))
	defer span.End()

	rel, err := c.catalog.Relation(node.Table)
	if err != nil {
		return errorPipeline(ctx, err)
	}

	scan, err := newScanPipeline(rel, node, c.evaluator, metrics)
	if err != nil {
		return errorPipeline(ctx, err)
	}
	span.AddEvent("opened scan", trace.WithAttributes(
		attribute.Int64("row_groups_total", scan.metrics.Get(MetricRowGroupsTotal)),
		attribute.Int64("row_groups_pruned", scan.metrics.Get(MetricRowGroupsPruned)),
		attribute.Int64("pages_pruned", scan.metrics.Get(MetricPagesPruned)),
	))
	level.Debug(c.logger).Log(
		"msg", "opened scan",
		"table", node.Table,
		"location", node.Location,
		"row_groups_total", scan.metrics.Get(MetricRowGroupsTotal),
		"row_groups_pruned", scan.metrics.Get(MetricRowGroupsPruned),
		"pages_pruned", scan.metrics.Get(MetricPagesPruned),
	)

	if c.prefetch {
		return newPrefetchingPipeline(scan)
	}
	return scan
}

func (c *Context) executeLimit(ctx context.Context, limit *physical.Limit, inputs []Pipeline) Pipeline {
	ctx, span := tracer.Start(ctx, "Context.executeLimit", trace.WithAttributes(
		attribute.Int64("skip", int64(limit.Skip)),
		attribute.Int64("fetch", int64(limit.Fetch)),
	))
	defer span.End()

	if len(inputs) == 0 {
		return emptyPipeline()
	}

	if len(inputs) > 1 {
		return errorPipeline(ctx, fmt.Errorf("limit expects exactly one input, got %d", len(inputs)), inputs...)
	}

	return NewLimitPipeline(inputs[0], limit.Skip, limit.Fetch)
}

func (c *Context) executeFilter(ctx context.Context, filter *physical.Filter, inputs []Pipeline) Pipeline {
	ctx, span := tracer.Start(ctx, "Context.executeFilter", trace.WithAttributes(
		attribute.Int("num_predicates", len(filter.Predicates)),
	))
	defer span.End()

	if len(inputs) == 0 {
		return emptyPipeline()
	}

	if len(inputs) > 1 {
		return errorPipeline(ctx, fmt.Errorf("filter expects exactly one input, got %d", len(inputs)), inputs...)
	}

	return NewFilterPipeline(filter, inputs[0], c.evaluator)
}

func (c *Context) executeProjection(ctx context.Context, proj *physical.Projection, inputs []Pipeline) Pipeline {
	ctx, span := tracer.Start(ctx, "Context.executeProjection", trace.WithAttributes(
		attribute.Int("num_expressions", len(proj.Exprs)),
	))
	defer span.End()

	if len(inputs) == 0 {
		return emptyPipeline()
	}

	if len(inputs) > 1 {
		return errorPipeline(ctx, fmt.Errorf("projection expects exactly one input, got %d", len(inputs)), inputs...)
	}

	p, err := NewProjectPipeline(inputs[0], proj, c.evaluator)
	if err != nil {
		return errorPipeline(ctx, err, inputs...)
	}
	return p
}

// Collect reads all records of p until it is exhausted. On error, records
// read so far are released. The pipeline is not closed.
func Collect(ctx context.Context, p Pipeline) ([]arrow.Record, error) {
	var records []arrow.Record
	for {
		rec, err := p.Read(ctx)
		if errors.Is(err, EOF) {
			return records, nil
		} else if err != nil {
			for _, r := range records {
				r.Release()
			}
			return nil, err
		}
		records = append(records, rec)
	}
}
