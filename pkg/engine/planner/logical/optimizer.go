package logical

import (
	"slices"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// A rule is a transformation that can be applied on a Node.
type rule interface {
	// apply tries to apply the transformation on the node. It returns the
	// resulting node and whether the transformation has been applied. The
	// input node is never modified.
	apply(Node) (Node, bool)
}

// simplifyFilter folds constant predicates. Filters that are always true
// are removed; constant sub-expressions of AND and OR are folded.
type simplifyFilter struct{}

// apply implements rule.
func (simplifyFilter) apply(node Node) (Node, bool) {
	filter, ok := node.(*Filter)
	if !ok {
		return node, false
	}
	folded := foldConstants(filter.Predicate)
	if lit, ok := folded.(*expr.Literal); ok && lit.Value.Type() == types.ValueTypeBool && lit.Value.Bool() {
		return filter.Input, true
	}
	if expr.Equal(folded, filter.Predicate) {
		return node, false
	}
	return &Filter{Input: filter.Input, Predicate: folded}, true
}

func foldConstants(e expr.Expr) expr.Expr {
	b, ok := e.(*expr.Binary)
	if !ok {
		return e
	}
	left, right := foldConstants(b.Left), foldConstants(b.Right)
	ll, leftConst := boolLiteral(left)
	rl, rightConst := boolLiteral(right)

	switch b.Op {
	case types.BinOpKindAnd:
		switch {
		case leftConst && !ll, rightConst && !rl:
			return expr.NewLiteral(false)
		case leftConst:
			return right
		case rightConst:
			return left
		}
	case types.BinOpKindOr:
		switch {
		case leftConst && ll, rightConst && rl:
			return expr.NewLiteral(true)
		case leftConst:
			return right
		case rightConst:
			return left
		}
	default:
		if l, ok := left.(*expr.Literal); ok && b.Op.IsComparison() {
			if r, ok := right.(*expr.Literal); ok {
				if c, ok := types.Compare(l.Value, r.Value); ok {
					return expr.NewLiteral(compareResult(b.Op, c))
				}
			}
		}
	}
	if left == b.Left && right == b.Right {
		return b
	}
	return expr.NewBinary(b.Op, left, right)
}

func boolLiteral(e expr.Expr) (value, ok bool) {
	lit, isLit := e.(*expr.Literal)
	if !isLit || lit.Value.Type() != types.ValueTypeBool {
		return false, false
	}
	return lit.Value.Bool(), true
}

func compareResult(op types.BinOpKind, c int) bool {
	switch op {
	case types.BinOpKindEq:
		return c == 0
	case types.BinOpKindNeq:
		return c != 0
	case types.BinOpKindGt:
		return c > 0
	case types.BinOpKindGte:
		return c >= 0
	case types.BinOpKindLt:
		return c < 0
	case types.BinOpKindLte:
		return c <= 0
	}
	return false
}

var _ rule = simplifyFilter{}

// mergeFilters combines directly nested filters into one.
type mergeFilters struct{}

// apply implements rule.
func (mergeFilters) apply(node Node) (Node, bool) {
	outer, ok := node.(*Filter)
	if !ok {
		return node, false
	}
	inner, ok := outer.Input.(*Filter)
	if !ok {
		return node, false
	}
	conjuncts := expr.AppendUnique(expr.SplitConjunction(inner.Predicate), expr.SplitConjunction(outer.Predicate)...)
	return &Filter{Input: inner.Input, Predicate: expr.Conjunction(conjuncts)}, true
}

var _ rule = mergeFilters{}

// filterPushdown copies the conjuncts of a filter into the table scan below
// it as partial filters. The filter itself stays in place because scans
// only use partial filters to skip data.
type filterPushdown struct{}

// apply implements rule.
func (filterPushdown) apply(node Node) (Node, bool) {
	filter, ok := node.(*Filter)
	if !ok {
		return node, false
	}
	scan, ok := filter.Input.(*TableScan)
	if !ok {
		return node, false
	}

	filters := expr.AppendUnique(slices.Clone(scan.Filters), expr.SplitConjunction(filter.Predicate)...)
	if len(filters) == len(scan.Filters) {
		return node, false
	}
	newScan := scan.clone()
	newScan.Filters = filters
	return &Filter{Input: newScan, Predicate: filter.Predicate}, true
}

var _ rule = filterPushdown{}

// projectionPushdown restricts the columns read by a scan to the columns
// used by the projection above it and any filters in between.
type projectionPushdown struct{}

// apply implements rule.
func (projectionPushdown) apply(node Node) (Node, bool) {
	proj, ok := node.(*Projection)
	if !ok {
		return node, false
	}

	var used []expr.Expr
	for _, e := range proj.Exprs {
		used = append(used, e.Expr)
	}
	input, changed := pruneColumns(proj.Input, used)
	if !changed {
		return node, false
	}
	return proj.withInputs([]Node{input}), true
}

func pruneColumns(node Node, used []expr.Expr) (Node, bool) {
	switch node := node.(type) {
	case *Filter:
		input, changed := pruneColumns(node.Input, append(slices.Clone(used), node.Predicate))
		if !changed {
			return node, false
		}
		return node.withInputs([]Node{input}), true
	case *Limit:
		input, changed := pruneColumns(node.Input, used)
		if !changed {
			return node, false
		}
		return node.withInputs([]Node{input}), true
	case *TableScan:
		required := expr.Columns(used...)
		// Keep the source order of the columns.
		projection := make([]string, 0, len(required))
		for _, field := range node.Source.Fields() {
			if slices.Contains(required, field.Name) {
				projection = append(projection, field.Name)
			}
		}
		if node.Projection != nil && slices.Equal(projection, node.Projection) {
			return node, false
		}
		newScan := node.clone()
		newScan.Projection = projection
		return newScan, true
	}
	return node, false
}

var _ rule = projectionPushdown{}

// limitPushdown sets the fetch of a table scan reached from a limit through
// projections only. Filters stop the pushdown since they may drop rows.
type limitPushdown struct{}

// apply implements rule.
func (limitPushdown) apply(node Node) (Node, bool) {
	limit, ok := node.(*Limit)
	if !ok {
		return node, false
	}
	input, changed := applyFetch(limit.Input, limit.Skip+limit.Fetch)
	if !changed {
		return node, false
	}
	return limit.withInputs([]Node{input}), true
}

func applyFetch(node Node, fetch uint64) (Node, bool) {
	// A scan fetch of 0 means unbounded.
	if fetch == 0 {
		return node, false
	}
	switch node := node.(type) {
	case *Projection:
		input, changed := applyFetch(node.Input, fetch)
		if !changed {
			return node, false
		}
		return node.withInputs([]Node{input}), true
	case *TableScan:
		if node.Fetch != 0 && node.Fetch <= fetch {
			return node, false
		}
		newScan := node.clone()
		newScan.Fetch = fetch
		return newScan, true
	}
	return node, false
}

var _ rule = limitPushdown{}

// optimization represents a single optimization pass and can hold multiple rules.
type optimization struct {
	name  string
	rules []rule
}

func newOptimization(name string) *optimization {
	return &optimization{name: name}
}

func (o *optimization) withRules(rules ...rule) *optimization {
	o.rules = append(o.rules, rules...)
	return o
}

func (o *optimization) optimize(node Node) Node {
	iterations, maxIterations := 0, 3

	for iterations < maxIterations {
		iterations++

		var changed bool
		node, changed = o.applyRules(node)
		if !changed {
			// Stop immediately if an optimization pass produced no changes.
			break
		}
	}
	return node
}

// applyRules applies all rules bottom-up, rebuilding the path from a
// changed node up to the root.
func (o *optimization) applyRules(node Node) (Node, bool) {
	anyChanged := false

	inputs := node.Inputs()
	if len(inputs) > 0 {
		newInputs := make([]Node, len(inputs))
		for i, in := range inputs {
			var changed bool
			newInputs[i], changed = o.applyRules(in)
			anyChanged = anyChanged || changed
		}
		if anyChanged {
			node = node.withInputs(newInputs)
		}
	}

	for _, rule := range o.rules {
		var changed bool
		node, changed = rule.apply(node)
		anyChanged = anyChanged || changed
	}
	return node, anyChanged
}

// Optimize returns an optimized copy of plan. The input plan is not
// modified. Optimization is deterministic: the same plan always produces
// the same output.
func Optimize(plan *Plan) *Plan {
	passes := []*optimization{
		newOptimization("SimplifyFilters").withRules(simplifyFilter{}, mergeFilters{}),
		newOptimization("FilterPushdown").withRules(filterPushdown{}),
		newOptimization("ProjectionPushdown").withRules(projectionPushdown{}),
		newOptimization("LimitPushdown").withRules(limitPushdown{}),
	}

	root := plan.Root
	for _, pass := range passes {
		root = pass.optimize(root)
	}
	return &Plan{Root: root}
}
