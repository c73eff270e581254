package physical

import (
	"fmt"

	"github.com/grafana/planprobe/pkg/engine/internal/tree"
)

// Annotator returns additional properties that are printed after the
// properties of a node, such as execution metrics.
type Annotator func(Node) []tree.Property

// BuildTree converts a physical plan node and its children into a tree structure
// that can be used for visualization and debugging purposes.
func BuildTree(p *Plan, n Node, annotate Annotator) *tree.Node {
	root := toTreeNode(n)
	if annotate != nil {
		root.Properties = append(root.Properties, annotate(n)...)
	}
	for _, child := range p.Children(n) {
		root.AddChild(BuildTree(p, child, annotate))
	}
	return root
}

func toTreeNode(n Node) *tree.Node {
	treeNode := tree.NewNode(n.Type().String())
	switch node := n.(type) {
	case *ParquetScan:
		treeNode.AddProperty(tree.NewProperty("location", false, node.Location))
		if node.Projection != nil {
			treeNode.AddProperty(tree.NewProperty("projection", true, toAnySlice(node.Projection)...))
		}
		for i := range node.Predicates {
			treeNode.AddProperty(tree.NewProperty(fmt.Sprintf("predicate[%d]", i), false, node.Predicates[i].String()))
		}
		for i := range node.PruningPredicates {
			treeNode.AddProperty(tree.NewProperty(fmt.Sprintf("pruning_predicate[%d]", i), false, node.PruningPredicates[i].String()))
		}
		if node.PageIndex {
			treeNode.AddProperty(tree.NewProperty("page_index", false, true))
		}
		if node.Limit > 0 {
			treeNode.AddProperty(tree.NewProperty("limit", false, node.Limit))
		}
	case *Filter:
		for i := range node.Predicates {
			treeNode.AddProperty(tree.NewProperty(fmt.Sprintf("predicate[%d]", i), false, node.Predicates[i].String()))
		}
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
			tree.NewProperty("offset", false, node.Skip),
			tree.NewProperty("limit", false, node.Fetch),
		}
	}
	return treeNode
}

// Format renders the plan starting at its root with the given format.
// Plans without a single root render as an empty string.
func (p *Plan) Format(format tree.Format, annotate Annotator) string {
	root, err := p.Root()
	if err != nil {
		return ""
	}
	return tree.Sprint(BuildTree(p, root, annotate), format)
}

// String renders the plan in indented form.
func (p *Plan) String() string {
	return p.Format(tree.FormatIndent, nil)
}

func toAnySlice[T any](s []T) []any {
	ret := make([]any, len(s))
	for i := range s {
		ret[i] = s[i]
	}
	return ret
}
