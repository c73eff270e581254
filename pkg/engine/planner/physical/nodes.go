package physical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
)

// NodeType identifies the kind of a physical [Node].
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeParquetScan
	NodeTypeFilter
	NodeTypeProjection
	NodeTypeLimit
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeParquetScan:
		return "ParquetScan"
	case NodeTypeFilter:
		return "Filter"
	case NodeTypeProjection:
		return "Projection"
	case NodeTypeLimit:
		return "Limit"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node is an operator of a physical plan. Nodes are identified by pointer
// within a [Plan]; the ID is stable for a given plan and used to attach
// execution metrics.
type Node interface {
	ID() string
	Type() NodeType
	// Schema returns the schema of the records produced by the node.
	Schema() *arrow.Schema
}

// ParquetScan reads rows of a Parquet file.
type ParquetScan struct {
	id string

	Table    string
	Location string
	// Projection lists the columns to read. Nil reads all columns.
	Projection []string
	// OutputSchema is the schema of the produced records.
	OutputSchema *arrow.Schema

	// Predicates are evaluated by the scan; only rows for which all of them
	// are true are returned.
	Predicates []expr.Expr
	// PruningPredicates are used to skip row groups (and pages when
	// PageIndex is set) whose statistics rule out a match.
	PruningPredicates []expr.Expr
	PageIndex         bool

	// Limit is the maximum number of rows to produce. Zero means no limit.
	Limit     uint64
	BatchSize int

	// partialFilters are the inexact filters of the logical scan, from
	// which pruning predicates are derived.
	partialFilters []expr.Expr
}

// Filter keeps the rows for which all predicates are true.
type Filter struct {
	id string

	Predicates []expr.Expr
	schema     *arrow.Schema
}

// Projection computes the output columns of a query.
type Projection struct {
	id string

	Exprs  []logical.NamedExpr
	schema *arrow.Schema
}

// Limit skips Skip rows and returns at most Fetch rows.
type Limit struct {
	id string

	Skip  uint64
	Fetch uint64

	schema *arrow.Schema
}

func (n *ParquetScan) ID() string { return n.id }
func (n *Filter) ID() string      { return n.id }
func (n *Projection) ID() string  { return n.id }
func (n *Limit) ID() string       { return n.id }

func (*ParquetScan) Type() NodeType { return NodeTypeParquetScan }
func (*Filter) Type() NodeType      { return NodeTypeFilter }
func (*Projection) Type() NodeType  { return NodeTypeProjection }
func (*Limit) Type() NodeType       { return NodeTypeLimit }

func (n *ParquetScan) Schema() *arrow.Schema { return n.OutputSchema }
func (n *Filter) Schema() *arrow.Schema      { return n.schema }
func (n *Projection) Schema() *arrow.Schema  { return n.schema }
func (n *Limit) Schema() *arrow.Schema       { return n.schema }

var (
	_ Node = (*ParquetScan)(nil)
	_ Node = (*Filter)(nil)
	_ Node = (*Projection)(nil)
	_ Node = (*Limit)(nil)
)
