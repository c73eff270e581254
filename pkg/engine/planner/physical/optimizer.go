package physical

import (
	"slices"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// A rule is a tranformation that can be applied on a Node.
type rule interface {
	// apply tries to apply the transformation on the node.
	// It returns a boolean indicating whether the transformation has been applied.
	apply(Node) bool
}

// removeNoopFilter is a rule that removes Filter nodes without predicates.
type removeNoopFilter struct {
	plan *Plan
}

// apply implements rule.
func (r *removeNoopFilter) apply(node Node) bool {
	if filter, ok := node.(*Filter); ok && len(filter.Predicates) == 0 {
		r.plan.eliminateNode(filter)
		return true
	}
	return false
}

var _ rule = (*removeNoopFilter)(nil)

// predicatePushdown is a rule that moves filter predicates into the scan
// nodes below them. Predicates only move through other filters; a limit or
// projection in between stops the pushdown.
type predicatePushdown struct {
	plan *Plan
}

// apply implements rule.
func (r *predicatePushdown) apply(node Node) bool {
	filter, ok := node.(*Filter)
	if !ok {
		return false
	}
	changed := false
	for i := 0; i < len(filter.Predicates); i++ {
		if ok := r.applyPredicatePushdown(filter, filter.Predicates[i]); ok {
			changed = true
			// remove predicates that have been pushed down
			filter.Predicates = slices.Delete(filter.Predicates, i, i+1)
			i--
		}
	}
	return changed
}

func (r *predicatePushdown) applyPredicatePushdown(node Node, predicate expr.Expr) bool {
	children := r.plan.Children(node)
	if len(children) == 0 {
		return false
	}
	for _, child := range children {
		switch child := child.(type) {
		case *ParquetScan:
			if !canApplyPredicate(child, predicate) {
				return false
			}
			child.Predicates = expr.AppendUnique(child.Predicates, predicate)
		case *Filter:
			if !r.applyPredicatePushdown(child, predicate) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// canApplyPredicate reports whether all columns referenced by predicate are
// produced by the scan.
func canApplyPredicate(scan *ParquetScan, predicate expr.Expr) bool {
	for _, name := range expr.Columns(predicate) {
		if len(scan.OutputSchema.FieldIndices(name)) == 0 {
			return false
		}
	}
	return true
}

var _ rule = (*predicatePushdown)(nil)

// pruningPredicate is a rule that derives the predicates used to skip row
// groups and pages from the filters known to the scan.
type pruningPredicate struct {
	plan      *Plan
	pageIndex bool
}

// apply implements rule.
func (r *pruningPredicate) apply(node Node) bool {
	scan, ok := node.(*ParquetScan)
	if !ok {
		return false
	}
	var pruning []expr.Expr
	for _, p := range expr.AppendUnique(slices.Clone(scan.partialFilters), scan.Predicates...) {
		if isPrunable(p) {
			pruning = expr.AppendUnique(pruning, p)
		}
	}
	pageIndex := r.pageIndex && len(pruning) > 0
	if slices.EqualFunc(pruning, scan.PruningPredicates, expr.Equal) && pageIndex == scan.PageIndex {
		return false
	}
	scan.PruningPredicates = pruning
	scan.PageIndex = pageIndex
	return true
}

// isPrunable reports whether statistics can decide e: a comparison between
// a column and a literal, a non-negated IN list, or AND/OR of those.
func isPrunable(e expr.Expr) bool {
	switch e := e.(type) {
	case *expr.Binary:
		if e.Op == types.BinOpKindAnd || e.Op == types.BinOpKindOr {
			return isPrunable(e.Left) && isPrunable(e.Right)
		}
		_, _, _, ok := expr.ColumnComparison(e)
		return ok && e.Op != types.BinOpKindNeq
	case *expr.InList:
		_, ok := e.Expr.(*expr.Column)
		return ok && !e.Negated
	}
	return false
}

var _ rule = (*pruningPredicate)(nil)

// reorderPredicates is a rule that sorts the predicates of a scan so that
// the most selective kinds are evaluated first. Predicates of the same kind
// keep their query order.
type reorderPredicates struct{}

// apply implements rule.
func (reorderPredicates) apply(node Node) bool {
	scan, ok := node.(*ParquetScan)
	if !ok || len(scan.Predicates) < 2 {
		return false
	}
	sorted := slices.Clone(scan.Predicates)
	slices.SortStableFunc(sorted, func(a, b expr.Expr) int {
		return predicateRank(a) - predicateRank(b)
	})
	if slices.EqualFunc(sorted, scan.Predicates, func(a, b expr.Expr) bool { return a == b }) {
		return false
	}
	scan.Predicates = sorted
	return true
}

func predicateRank(e expr.Expr) int {
	switch e := e.(type) {
	case *expr.Binary:
		if _, op, _, ok := expr.ColumnComparison(e); ok {
			if op == types.BinOpKindEq {
				return 0
			}
			if op != types.BinOpKindNeq {
				return 2
			}
		}
	case *expr.InList:
		if !e.Negated {
			return 1
		}
	case *expr.Unary:
		if e.Op == types.UnaryOpKindIsNull || e.Op == types.UnaryOpKindIsNotNull {
			return 3
		}
	}
	return 4
}

var _ rule = reorderPredicates{}

// limitPushdown is a rule that moves down the limit to the scan nodes.
// Filters stop the pushdown since they drop rows after the scan.
type limitPushdown struct {
	plan *Plan
}

// apply implements rule.
func (r *limitPushdown) apply(node Node) bool {
	if limit, ok := node.(*Limit); ok && limit.Fetch > 0 {
		return r.applyLimitPushdown(limit, limit.Skip+limit.Fetch)
	}
	return false
}

func (r *limitPushdown) applyLimitPushdown(node Node, limit uint64) bool {
	changed := false
	for _, child := range r.plan.Children(node) {
		switch child := child.(type) {
		case *ParquetScan:
			if child.Limit == 0 || child.Limit > limit {
				child.Limit = limit
				changed = true
			}
		case *Projection:
			changed = r.applyLimitPushdown(child, limit) || changed
		}
	}
	return changed
}

var _ rule = (*limitPushdown)(nil)

// optimization represents a single optimization pass and can hold multiple rules.
type optimization struct {
	plan  *Plan
	name  string
	rules []rule
}

func newOptimization(name string, plan *Plan) *optimization {
	return &optimization{
		name: name,
		plan: plan,
	}
}

func (o *optimization) withRules(rules ...rule) *optimization {
	o.rules = append(o.rules, rules...)
	return o
}

func (o *optimization) optimize() {
	iterations, maxIterations := 0, 3

	for iterations < maxIterations {
		iterations++

		root, err := o.plan.Root()
		if err != nil || !o.applyRules(root) {
			// Stop immediately if an optimization pass produced no changes.
			break
		}
	}
}

func (o *optimization) applyRules(node Node) bool {
	anyChanged := false

	// Rules may remove children from the plan, so iterate over a copy.
	for _, child := range slices.Clone(o.plan.Children(node)) {
		if o.applyRules(child) {
			anyChanged = true
		}
	}

	for _, rule := range o.rules {
		if rule.apply(node) {
			anyChanged = true
		}
	}
	return anyChanged
}

// The optimizer can optimize physical plans using the provided optimization passes.
type optimizer struct {
	plan   *Plan
	passes []*optimization
}

func newOptimizer(plan *Plan, passes []*optimization) *optimizer {
	return &optimizer{plan: plan, passes: passes}
}

// optimize runs all passes in order. Each pass resolves the root again
// because earlier passes may have removed it.
func (o *optimizer) optimize() {
	for _, pass := range o.passes {
		pass.optimize()
	}
}
