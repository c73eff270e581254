package executor

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
)

// NewProjectPipeline computes the expressions of proj for every record of
// input. Column references reuse the input arrays without copying.
func NewProjectPipeline(input Pipeline, proj *physical.Projection, evaluator expressionEvaluator) (Pipeline, error) {
	if len(proj.Exprs) == 0 {
		return nil, fmt.Errorf("projection expects at least one expression, got 0")
	}
	schema := proj.Schema()
	if schema.NumFields() != len(proj.Exprs) {
		return nil, fmt.Errorf("projection schema has %d fields for %d expressions", schema.NumFields(), len(proj.Exprs))
	}

	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		batch, err := inputs[0].Read(ctx)
		if err != nil {
			return nil, err
		}
		defer batch.Release()

		columns := make([]arrow.Array, 0, len(proj.Exprs))
		defer func() {
			for _, c := range columns {
				c.Release()
			}
		}()

		for i, e := range proj.Exprs {
			field := schema.Field(i)
			if col, ok := e.Expr.(*expr.Column); ok {
				if idx := batch.Schema().FieldIndices(col.Name); len(idx) > 0 && arrow.TypeEqual(batch.Column(idx[0]).DataType(), field.Type) {
					arr := batch.Column(idx[0])
					arr.Retain()
					columns = append(columns, arr)
					continue
				}
			}
			arr, err := evaluator.eval(e.Expr, batch, field.Type)
			if err != nil {
				return nil, fmt.Errorf("evaluating %s: %w", e.Name, err)
			}
			columns = append(columns, arr)
		}
		return array.NewRecord(schema, columns, batch.NumRows()), nil
	}, input), nil
}
