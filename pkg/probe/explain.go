package probe

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
)

// ExplainRecord is one row of EXPLAIN ANALYZE output.
type ExplainRecord struct {
	Stage string
	Text  string
}

// ExplainAnalyze runs EXPLAIN ANALYZE for query through the engine's
// statement path and returns the reported stages in engine order:
// logical_plan, physical_plan, physical_plan_with_metrics and
// execution_summary. The query is executed. Compile errors are reported as
// by [Compile] and runtime errors as by [Execute].
func ExplainAnalyze(ctx context.Context, s *Session, query string) ([]ExplainRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.engine.SQL(ctx, "EXPLAIN ANALYZE "+query)
	if err != nil {
		return nil, classify(err)
	}
	defer res.Release()

	var records []ExplainRecord
	for _, rec := range res.Records {
		if rec.NumCols() != 2 {
			return nil, &ExecutionError{ErrKind: Runtime, Err: fmt.Errorf("unexpected EXPLAIN result with %d columns", rec.NumCols())}
		}
		stages, ok1 := rec.Column(0).(*array.String)
		texts, ok2 := rec.Column(1).(*array.String)
		if !ok1 || !ok2 {
			return nil, &ExecutionError{ErrKind: Runtime, Err: fmt.Errorf("unexpected EXPLAIN result schema %s", rec.Schema())}
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			records = append(records, ExplainRecord{Stage: stages.Value(i), Text: texts.Value(i)})
		}
	}
	return records, nil
}
