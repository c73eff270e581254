package probe

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"

	"github.com/grafana/planprobe/pkg/engine/planner/physical"
)

// Executable is a plan that [Execute] accepts: an [*OptimizedLogicalPlan]
// or a [*PhysicalPlan].
type Executable interface {
	physicalPlan(ctx context.Context, s *Session) (*physical.Plan, error)
}

func (p *OptimizedLogicalPlan) physicalPlan(ctx context.Context, s *Session) (*physical.Plan, error) {
	physicalPlan, err := Physicalize(ctx, s, p)
	if err != nil {
		return nil, err
	}
	return physicalPlan.plan, nil
}

func (p *PhysicalPlan) physicalPlan(context.Context, *Session) (*physical.Plan, error) {
	if p == nil {
		return nil, &PlanningError{Err: errNilPlan("physical")}
	}
	return p.plan, nil
}

// Result is a fully collected result set. The caller must call
// [Result.Release] once done with the batches.
type Result struct {
	Schema  *arrow.Schema
	Batches []arrow.Record
	// Elapsed is the time from submission until the last batch was
	// materialized.
	Elapsed time.Duration
}

// NumRows returns the total number of rows across all batches.
func (r *Result) NumRows() int64 {
	var n int64
	for _, b := range r.Batches {
		n += b.NumRows()
	}
	return n
}

// Release releases all batches.
func (r *Result) Release() {
	for _, b := range r.Batches {
		b.Release()
	}
	r.Batches = nil
}

// Execute runs plan and collects its entire result. The timer starts right
// before submission, so physical planning of an optimized logical plan is
// included in [Result.Elapsed]. Runtime failures are [*ExecutionError]
// values; a timeout of the session's QueryTimeout has kind Timeout.
func Execute(ctx context.Context, s *Session, plan Executable) (*Result, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	physicalPlan, err := plan.physicalPlan(ctx, s)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Collect(ctx, physicalPlan)
	if err != nil {
		return nil, classify(err)
	}
	elapsed := time.Since(start)

	level.Info(s.logger).Log(
		"msg", "query executed",
		"rows", res.NumRows(),
		"batches", len(res.Records),
		"duration", elapsed.String(),
	)
	return &Result{Schema: res.Schema, Batches: res.Records, Elapsed: elapsed}, nil
}
