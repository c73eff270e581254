package logical

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
)

// Builder constructs a logical plan bottom-up. The first error encountered
// is kept and returned from [Builder.ToPlan].
type Builder struct {
	node Node
	err  error
}

// NewBuilder starts a plan that scans the given table.
func NewBuilder(table, location string, schema *arrow.Schema) *Builder {
	return &Builder{node: &TableScan{Table: table, Location: location, Source: schema}}
}

// Select adds a filter with the given predicate.
func (b *Builder) Select(predicate expr.Expr) *Builder {
	if b.err != nil {
		return b
	}
	if err := checkColumns(b.node.Schema(), predicate); err != nil {
		b.err = err
		return b
	}
	b.node = &Filter{Input: b.node, Predicate: predicate}
	return b
}

// Project adds a projection computing exprs.
func (b *Builder) Project(exprs ...NamedExpr) *Builder {
	if b.err != nil {
		return b
	}
	proj, err := NewProjection(b.node, exprs)
	if err != nil {
		b.err = err
		return b
	}
	b.node = proj
	return b
}

// Limit adds a limit node.
func (b *Builder) Limit(skip, fetch uint64) *Builder {
	if b.err != nil {
		return b
	}
	b.node = &Limit{Input: b.node, Skip: skip, Fetch: fetch}
	return b
}

// ToPlan returns the plan built so far.
func (b *Builder) ToPlan() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Plan{Root: b.node}, nil
}

func checkColumns(schema *arrow.Schema, e expr.Expr) error {
	for _, name := range expr.Columns(e) {
		if len(schema.FieldIndices(name)) == 0 {
			return fmt.Errorf("column %q not found", name)
		}
	}
	return nil
}
