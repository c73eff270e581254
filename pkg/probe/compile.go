package probe

import (
	"context"
	"strings"

	"github.com/grafana/planprobe/pkg/engine/planner/logical"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
	"github.com/grafana/planprobe/pkg/engine/sql"
)

// LogicalPlan is the unoptimized logical plan of a query.
type LogicalPlan struct {
	plan *logical.Plan
	text string
}

// String renders the plan in the session's explain format.
func (p *LogicalPlan) String() string { return p.text }

// OptimizedLogicalPlan is the output of the logical optimizer.
type OptimizedLogicalPlan struct {
	plan *logical.Plan
	text string
}

func (p *OptimizedLogicalPlan) String() string { return p.text }

// PhysicalPlan is the optimized physical plan of a query.
type PhysicalPlan struct {
	plan *physical.Plan
	text string
}

func (p *PhysicalPlan) String() string { return p.text }

// Compile parses query and binds its table and column names against the
// session's relations. Errors are [*ParseError] values carrying the
// offending identifier.
func Compile(ctx context.Context, s *Session, query string) (*LogicalPlan, error) {
	stmt, err := s.engine.Parse(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	if stmt.Kind != sql.KindQuery {
		keyword := strings.ToUpper(strings.TrimSuffix(stmt.Kind.String(), " analyze"))
		return nil, &ParseError{Token: keyword, Err: &sql.Error{Err: sql.ErrUnsupported, Identifier: keyword}}
	}
	return &LogicalPlan{plan: stmt.Plan, text: s.engine.FormatLogical(stmt.Plan)}, nil
}

// Optimize runs the logical optimizer. It does not modify plan and returns
// structurally identical plans for identical inputs. Errors are
// [*OptimizeError] values.
func Optimize(ctx context.Context, s *Session, plan *LogicalPlan) (*OptimizedLogicalPlan, error) {
	if plan == nil {
		return nil, &OptimizeError{Err: errNilPlan("logical")}
	}
	optimized, err := s.engine.Optimize(ctx, plan.plan)
	if err != nil {
		return nil, classify(err)
	}
	return &OptimizedLogicalPlan{plan: optimized, text: s.engine.FormatLogical(optimized)}, nil
}

// Physicalize creates the physical plan for plan according to the session
// options. Errors are [*PlanningError] values.
func Physicalize(ctx context.Context, s *Session, plan *OptimizedLogicalPlan) (*PhysicalPlan, error) {
	if plan == nil {
		return nil, &PlanningError{Err: errNilPlan("optimized logical")}
	}
	physicalPlan, err := s.engine.CreatePhysicalPlan(ctx, plan.plan)
	if err != nil {
		return nil, classify(err)
	}
	return &PhysicalPlan{plan: physicalPlan, text: s.engine.FormatPhysical(physicalPlan)}, nil
}
