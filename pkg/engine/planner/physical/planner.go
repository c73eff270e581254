// Package physical converts logical plans into physical plans that describe
// how a query is executed, and optimizes them according to the execution
// options.
package physical

import (
	"fmt"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
)

// Planner creates an executable physical plan from a logical plan.
// Planning is done in two steps:
//  1. Build
//     Nodes of the logical plan are converted one-to-one into physical nodes.
//  2. Optimize
//     Depending on the options, predicates are pushed into the scan,
//     pruning predicates are derived and limits are pushed down.
type Planner struct {
	opts   options.Options
	plan   *Plan
	nextID int
}

// NewPlanner creates a new planner using the given options.
func NewPlanner(opts options.Options) *Planner {
	return &Planner{opts: opts}
}

// Build converts a given logical plan into a physical plan and returns an
// error if the conversion fails.
func (p *Planner) Build(lp *logical.Plan) (*Plan, error) {
	if lp == nil || lp.Root == nil {
		return nil, fmt.Errorf("empty logical plan")
	}
	p.plan = newPlan()
	p.nextID = 0
	if _, err := p.process(lp.Root); err != nil {
		return nil, err
	}
	return p.plan, nil
}

func (p *Planner) newID(t NodeType) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", t, p.nextID)
}

// process converts a logical node and its inputs, returning the physical
// node that replaces it.
func (p *Planner) process(n logical.Node) (Node, error) {
	var node Node
	switch n := n.(type) {
	case *logical.TableScan:
		batchSize := p.opts.Int(options.BatchSize)
		node = &ParquetScan{
			id:             p.newID(NodeTypeParquetScan),
			Table:          n.Table,
			Location:       n.Location,
			Projection:     n.Projection,
			OutputSchema:   n.Schema(),
			Limit:          n.Fetch,
			BatchSize:      int(batchSize),
			partialFilters: n.Filters,
		}
	case *logical.Filter:
		node = &Filter{
			id:         p.newID(NodeTypeFilter),
			Predicates: expr.SplitConjunction(n.Predicate),
			schema:     n.Schema(),
		}
	case *logical.Projection:
		node = &Projection{
			id:     p.newID(NodeTypeProjection),
			Exprs:  n.Exprs,
			schema: n.Schema(),
		}
	case *logical.Limit:
		node = &Limit{
			id:     p.newID(NodeTypeLimit),
			Skip:   n.Skip,
			Fetch:  n.Fetch,
			schema: n.Schema(),
		}
	default:
		return nil, fmt.Errorf("unsupported logical node %T", n)
	}

	p.plan.addNode(node)
	for _, input := range n.Inputs() {
		child, err := p.process(input)
		if err != nil {
			return nil, err
		}
		if err := p.plan.addEdge(node, child); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Optimize tries to optimize the plan by pushing down filter predicates and
// limits to the scan nodes. The plan is modified in place and returned.
func (p *Planner) Optimize(plan *Plan) (*Plan, error) {
	if _, err := plan.Root(); err != nil {
		return nil, err
	}

	var passes []*optimization
	if p.opts.PushdownFilters() {
		passes = append(passes, newOptimization("PredicatePushdown", plan).withRules(
			&predicatePushdown{plan: plan},
			&removeNoopFilter{plan: plan},
		))
	}
	if p.opts.Pruning() {
		passes = append(passes, newOptimization("PruningPredicate", plan).withRules(
			&pruningPredicate{plan: plan, pageIndex: p.opts.PageIndex()},
		))
	}
	if p.opts.ReorderFilters() {
		passes = append(passes, newOptimization("ReorderPredicates", plan).withRules(
			&reorderPredicates{},
		))
	}
	passes = append(passes, newOptimization("LimitPushdown", plan).withRules(
		&limitPushdown{plan: plan},
	))

	newOptimizer(plan, passes).optimize()
	return plan, nil
}
