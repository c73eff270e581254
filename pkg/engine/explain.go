package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/planprobe/pkg/engine/internal/executor"
	"github.com/grafana/planprobe/pkg/engine/internal/tree"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
)

// Values of the plan_type column of EXPLAIN results, in output order.
const (
	PlanTypeLogical             = "logical_plan"
	PlanTypePhysical            = "physical_plan"
	PlanTypePhysicalWithMetrics = "physical_plan_with_metrics"
	PlanTypeExecutionSummary    = "execution_summary"
)

// ExplainSchema is the schema of EXPLAIN results.
var ExplainSchema = arrow.NewSchema([]arrow.Field{
	{Name: "plan_type", Type: arrow.BinaryTypes.String},
	{Name: "plan", Type: arrow.BinaryTypes.String},
}, nil)

type explainRow struct {
	planType, plan string
}

// Explain optimizes and plans the given unoptimized logical plan and
// returns the optimized logical plan and the physical plan as rows of
// [ExplainSchema]. With analyze set, the plan is also executed and the
// physical plan is rendered again with the metrics of every operator,
// followed by a summary of the execution.
func (e *Engine) Explain(ctx context.Context, plan *logical.Plan, analyze bool) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Explain", trace.WithAttributes(
		attribute.Bool("analyze", analyze),
	))
	defer span.End()

	optimized, err := e.Optimize(ctx, plan)
	if err != nil {
		return nil, err
	}
	physicalPlan, err := e.CreatePhysicalPlan(ctx, optimized)
	if err != nil {
		return nil, err
	}

	rows := []explainRow{
		{PlanTypeLogical, e.FormatLogical(optimized)},
		{PlanTypePhysical, e.FormatPhysical(physicalPlan)},
	}
	if analyze {
		metrics := executor.NewMetricsSet()
		start := time.Now()
		result, err := e.collect(ctx, physicalPlan, metrics)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)
		numRows, numBatches := result.NumRows(), len(result.Records)
		result.Release()

		rows = append(rows,
			explainRow{PlanTypePhysicalWithMetrics, physicalPlan.Format(e.format(), metricsAnnotator(metrics))},
			explainRow{PlanTypeExecutionSummary, fmt.Sprintf("output_rows=%d output_batches=%d elapsed=%s", numRows, numBatches, elapsed)},
		)
	}
	return e.explainResult(rows), nil
}

func (e *Engine) explainResult(rows []explainRow) *Result {
	builder := array.NewRecordBuilder(e.alloc, ExplainSchema)
	defer builder.Release()

	planTypes := builder.Field(0).(*array.StringBuilder)
	plans := builder.Field(1).(*array.StringBuilder)
	for _, row := range rows {
		planTypes.Append(row.planType)
		plans.Append(row.plan)
	}
	return &Result{Schema: ExplainSchema, Records: []arrow.Record{builder.NewRecord()}}
}

// metricsAnnotator adds the recorded metrics of each operator as a
// metrics=(...) property.
func metricsAnnotator(set *executor.MetricsSet) physical.Annotator {
	return func(n physical.Node) []tree.Property {
		m, ok := set.Lookup(n.ID())
		if !ok {
			return nil
		}
		values := m.Values()
		if len(values) == 0 {
			return nil
		}
		rendered := make([]any, len(values))
		for i, v := range values {
			if v.Name == executor.MetricElapsed {
				rendered[i] = fmt.Sprintf("%s=%s", v.Name, time.Duration(v.Value))
				continue
			}
			rendered[i] = fmt.Sprintf("%s=%d", v.Name, v.Value)
		}
		return []tree.Property{tree.NewProperty("metrics", true, rendered...)}
	}
}
