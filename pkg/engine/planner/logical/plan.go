package logical

import (
	"fmt"

	"github.com/grafana/planprobe/pkg/engine/internal/tree"
)

// Plan is a logical query plan.
type Plan struct {
	Root Node
}

// String renders the plan in indented form.
func (p *Plan) String() string {
	return p.Format(tree.FormatIndent)
}

// Format renders the plan with the given format.
func (p *Plan) Format(format tree.Format) string {
	return tree.Sprint(BuildTree(p.Root), format)
}

// Walk visits n and its inputs in pre-order.
func Walk(n Node, fn func(Node)) {
	fn(n)
	for _, in := range n.Inputs() {
		Walk(in, fn)
	}
}

// BuildTree converts a logical plan node and its inputs into a printable
// tree.
func BuildTree(n Node) *tree.Node {
	root := toTreeNode(n)
	for _, in := range n.Inputs() {
		root.AddChild(BuildTree(in))
	}
	return root
}

func toTreeNode(n Node) *tree.Node {
	treeNode := tree.NewNode(n.Type().String())
	switch node := n.(type) {
	case *TableScan:
		treeNode.AddProperty(tree.NewProperty("table", false, node.Table))
		if node.Projection != nil {
			treeNode.AddProperty(tree.NewProperty("projection", true, toAnySlice(node.Projection)...))
		}
		if len(node.Filters) > 0 {
			treeNode.AddProperty(tree.NewProperty("partial_filters", true, toAnySlice(node.Filters)...))
		}
		if node.Fetch > 0 {
			treeNode.AddProperty(tree.NewProperty("fetch", false, node.Fetch))
		}
	case *Filter:
		treeNode.AddProperty(tree.NewProperty("predicate", false, node.Predicate))
	case *Projection:
		exprs := make([]any, len(node.Exprs))
		for i, e := range node.Exprs {
			if e.Expr.String() == e.Name {
				exprs[i] = e.Name
			} else {
				exprs[i] = fmt.Sprintf("%s AS %s", e.Expr, e.Name)
			}
		}
		treeNode.AddProperty(tree.NewProperty("exprs", true, exprs...))
	case *Limit:
		treeNode.Properties = []tree.Property{
			tree.NewProperty("skip", false, node.Skip),
			tree.NewProperty("fetch", false, node.Fetch),
		}
	}
	return treeNode
}

func toAnySlice[T any](s []T) []any {
	ret := make([]any, len(s))
	for i := range s {
		ret[i] = s[i]
	}
	return ret
}
