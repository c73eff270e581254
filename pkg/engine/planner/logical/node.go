// Package logical implements logical query plans: a tree of relational
// operators over named tables, independent of how they are executed.
//
// Plans are immutable. The optimizer builds new nodes rather than modifying
// the nodes of its input, so a plan can be rendered before and after
// optimization.
package logical

import (
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
)

// NodeType identifies the kind of a [Node].
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeTableScan
	NodeTypeFilter
	NodeTypeProjection
	NodeTypeLimit
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeTableScan:
		return "TableScan"
	case NodeTypeFilter:
		return "Filter"
	case NodeTypeProjection:
		return "Projection"
	case NodeTypeLimit:
		return "Limit"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node is a single operator of a logical plan.
type Node interface {
	Type() NodeType
	// Inputs returns the child nodes of the node.
	Inputs() []Node
	// Schema returns the schema of the rows produced by the node.
	Schema() *arrow.Schema

	// withInputs returns a copy of the node reading from inputs.
	withInputs(inputs []Node) Node
}

// TableScan reads a registered table.
type TableScan struct {
	Table    string
	Location string
	// Source is the full schema of the table.
	Source *arrow.Schema

	// Projection lists the columns to read. Nil reads all columns.
	Projection []string
	// Filters are predicates the scan may use to skip data. They are
	// inexact: rows that do not satisfy them can still be returned, so the
	// Filter node they were taken from is kept.
	Filters []expr.Expr
	// Fetch is the maximum number of rows the scan needs to produce. Zero
	// means no limit.
	Fetch uint64
}

// Filter keeps the rows for which Predicate evaluates to true.
type Filter struct {
	Input     Node
	Predicate expr.Expr
}

// NamedExpr is an output column of a [Projection].
type NamedExpr struct {
	Expr expr.Expr
	Name string
}

// Projection computes the output columns.
type Projection struct {
	Input Node
	Exprs []NamedExpr

	schema *arrow.Schema
}

// Limit skips the first Skip rows and returns at most Fetch rows.
type Limit struct {
	Input Node
	Skip  uint64
	Fetch uint64
}

func (*TableScan) Type() NodeType  { return NodeTypeTableScan }
func (*Filter) Type() NodeType     { return NodeTypeFilter }
func (*Projection) Type() NodeType { return NodeTypeProjection }
func (*Limit) Type() NodeType      { return NodeTypeLimit }

func (*TableScan) Inputs() []Node    { return nil }
func (n *Filter) Inputs() []Node     { return []Node{n.Input} }
func (n *Projection) Inputs() []Node { return []Node{n.Input} }
func (n *Limit) Inputs() []Node      { return []Node{n.Input} }

func (n *TableScan) Schema() *arrow.Schema {
	if n.Projection == nil {
		return n.Source
	}
	fields := make([]arrow.Field, 0, len(n.Projection))
	for _, name := range n.Projection {
		if idx := n.Source.FieldIndices(name); len(idx) > 0 {
			fields = append(fields, n.Source.Field(idx[0]))
		}
	}
	return arrow.NewSchema(fields, nil)
}

func (n *Filter) Schema() *arrow.Schema     { return n.Input.Schema() }
func (n *Projection) Schema() *arrow.Schema { return n.schema }
func (n *Limit) Schema() *arrow.Schema      { return n.Input.Schema() }

func (n *TableScan) withInputs([]Node) Node { return n }

func (n *Filter) withInputs(inputs []Node) Node {
	return &Filter{Input: inputs[0], Predicate: n.Predicate}
}

func (n *Projection) withInputs(inputs []Node) Node {
	return &Projection{Input: inputs[0], Exprs: n.Exprs, schema: n.schema}
}

func (n *Limit) withInputs(inputs []Node) Node {
	return &Limit{Input: inputs[0], Skip: n.Skip, Fetch: n.Fetch}
}

// clone returns a shallow copy of the scan with its own slices.
func (n *TableScan) clone() *TableScan {
	c := *n
	c.Projection = slices.Clone(n.Projection)
	c.Filters = slices.Clone(n.Filters)
	return &c
}

// NewProjection creates a projection node and derives its output schema.
func NewProjection(input Node, exprs []NamedExpr) (*Projection, error) {
	in := input.Schema()
	fields := make([]arrow.Field, 0, len(exprs))
	for _, e := range exprs {
		typ, err := expr.TypeOf(e.Expr, in)
		if err != nil {
			return nil, err
		}
		field := arrow.Field{Name: e.Name, Type: typ.ArrowType(), Nullable: true}
		// Column references keep the exact type of the input column.
		if col, ok := e.Expr.(*expr.Column); ok {
			src := in.Field(in.FieldIndices(col.Name)[0])
			field.Type, field.Nullable = src.Type, src.Nullable
		}
		fields = append(fields, field)
	}
	return &Projection{Input: input, Exprs: exprs, schema: arrow.NewSchema(fields, nil)}, nil
}
