package executor

import (
	"context"
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/planprobe/pkg/engine/planner/physical"
	"github.com/grafana/planprobe/pkg/engine/source"
)

const defaultBatchSize = 8192

// scanPipeline reads the rows of a relation selected by the pruning
// predicates of a scan node, evaluates the pushed down predicates and
// applies the scan limit.
type scanPipeline struct {
	node      *physical.ParquetScan
	reader    *source.Reader
	evaluator expressionEvaluator
	metrics   *OperatorMetrics

	remaining int64 // rows left until the limit is reached; <0 means no limit
}

var _ Pipeline = (*scanPipeline)(nil)

func newScanPipeline(rel *source.Relation, node *physical.ParquetScan, evaluator expressionEvaluator, metrics *OperatorMetrics) (*scanPipeline, error) {
	opts := source.PruneOptions{Predicates: node.PruningPredicates}
	if len(node.PruningPredicates) > 0 {
		opts.RowGroups = true
		opts.Pages = node.PageIndex
	}
	plan := rel.Prune(opts)

	if metrics == nil {
		metrics = newOperatorMetrics()
	}
	metrics.Add(MetricRowGroupsTotal, int64(plan.RowGroupsTotal))
	metrics.Add(MetricRowGroupsPruned, int64(plan.RowGroupsPruned))
	metrics.Add(MetricPagesTotal, int64(plan.PagesTotal))
	metrics.Add(MetricPagesPruned, int64(plan.PagesPruned))

	batchSize := node.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	reader, err := rel.NewReader(source.ReaderOptions{
		Columns:   node.Projection,
		BatchSize: batchSize,
		Plan:      plan,
	}, evaluator.alloc)
	if err != nil {
		return nil, err
	}

	remaining := int64(-1)
	if node.Limit > 0 {
		remaining = int64(node.Limit)
	}
	return &scanPipeline{
		node:      node,
		reader:    reader,
		evaluator: evaluator,
		metrics:   metrics,
		remaining: remaining,
	}, nil
}

// Read implements Pipeline.
func (s *scanPipeline) Read(ctx context.Context) (arrow.Record, error) {
	for {
		if s.remaining == 0 {
			return nil, EOF
		}

		batch, err := s.reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil, EOF
		} else if err != nil {
			return nil, err
		}
		numRows := batch.NumRows()
		s.metrics.Add(MetricRowsScanned, numRows)

		filtered, err := applyPredicates(s.evaluator, s.node.Predicates, batch)
		batch.Release()
		if err != nil {
			return nil, err
		}
		if len(s.node.Predicates) > 0 {
			s.metrics.Add(MetricRowsPrunedByPred, numRows-filtered.NumRows())
		}
		if filtered.NumRows() == 0 {
			filtered.Release()
			continue
		}

		if s.remaining > 0 && filtered.NumRows() > s.remaining {
			sliced := filtered.NewSlice(0, s.remaining)
			filtered.Release()
			filtered = sliced
		}
		if s.remaining > 0 {
			s.remaining -= filtered.NumRows()
		}
		return filtered, nil
	}
}

// Close implements Pipeline.
func (s *scanPipeline) Close() {
	_ = s.reader.Close()
}
