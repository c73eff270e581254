package executor

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
)

func NewFilterPipeline(filter *physical.Filter, input Pipeline, evaluator expressionEvaluator) *GenericPipeline {
	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		for {
			// Pull the next item from the input pipeline
			batch, err := inputs[0].Read(ctx)
			if err != nil {
				return nil, err
			}

			filtered, err := applyPredicates(evaluator, filter.Predicates, batch)
			batch.Release()
			if err != nil {
				return nil, err
			}
			// Skip batches without matches so that consumers never see empty
			// records.
			if filtered.NumRows() == 0 {
				filtered.Release()
				continue
			}
			return filtered, nil
		}
	}, input)
}

// applyPredicates returns a new record with the rows of batch for which all
// predicates are true. The caller keeps ownership of batch.
func applyPredicates(evaluator expressionEvaluator, predicates []expr.Expr, batch arrow.Record) (arrow.Record, error) {
	if len(predicates) == 0 {
		batch.Retain()
		return batch, nil
	}

	preds := make([]func(int) bool, 0, len(predicates))
	for i, p := range predicates {
		fn, err := evaluator.predicate(p, batch)
		if err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
		preds = append(preds, fn)
	}

	return filterBatch(evaluator.alloc, batch, func(row int) bool {
		for _, p := range preds {
			if !p(row) {
				return false
			}
		}
		return true
	})
}

// filterBatch creates a new record from the rows of batch for which include
// returns true. There is no plumbing in the arrow library to do this without
// copying, so values are appended to new builders one by one.
//
// NB: Scans with pushed down predicates evaluate them on freshly decoded
// records, which avoids a second copy in a separate filter operator.
func filterBatch(alloc memory.Allocator, batch arrow.Record, include func(int) bool) (arrow.Record, error) {
	fields := batch.Schema().Fields()

	builders := make([]array.Builder, len(fields))
	defer func() {
		for _, b := range builders {
			if b != nil {
				b.Release()
			}
		}
	}()

	additions := make([]func(int), len(fields))
	for i, field := range fields {
		builders[i] = array.NewBuilder(alloc, field.Type)
		add, err := copier(builders[i], batch.Column(i))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		additions[i] = add
	}

	var numRows int64
	for row := range int(batch.NumRows()) {
		if !include(row) {
			continue
		}
		for _, add := range additions {
			add(row)
		}
		numRows++
	}

	arrays := make([]arrow.Array, len(fields))
	for i, b := range builders {
		arrays[i] = b.NewArray()
	}
	rec := array.NewRecord(batch.Schema(), arrays, numRows)
	for _, a := range arrays {
		a.Release()
	}
	return rec, nil
}

// copier returns a function appending row i of src to dst.
func copier(dst array.Builder, src arrow.Array) (func(int), error) {
	withNulls := func(add func(int)) func(int) {
		return func(i int) {
			if src.IsNull(i) {
				dst.AppendNull()
				return
			}
			add(i)
		}
	}

	switch dst := dst.(type) {
	case *array.NullBuilder:
		return func(int) { dst.AppendNull() }, nil
	case *array.BooleanBuilder:
		src := src.(*array.Boolean)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.Int32Builder:
		src := src.(*array.Int32)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.Int64Builder:
		src := src.(*array.Int64)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.Float32Builder:
		src := src.(*array.Float32)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.Float64Builder:
		src := src.(*array.Float64)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.StringBuilder:
		src := src.(*array.String)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	case *array.BinaryBuilder:
		src := src.(*array.Binary)
		return withNulls(func(i int) { dst.Append(src.Value(i)) }), nil
	}
	return nil, fmt.Errorf("unsupported type %s", src.DataType())
}
