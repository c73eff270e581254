// Package sql turns SQL text into unoptimized logical plans.
//
// Statements are parsed with the TiDB (MySQL dialect) parser. The supported
// subset is a single-table SELECT with an optional WHERE clause and LIMIT,
// optionally wrapped in EXPLAIN or EXPLAIN ANALYZE.
package sql

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/grafana/planprobe/pkg/engine/planner/logical"
)

// Table describes a relation known to the catalog.
type Table struct {
	Name     string
	Location string
	Schema   *arrow.Schema
}

// Catalog resolves table names used in FROM clauses.
type Catalog interface {
	Table(name string) (Table, bool)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(name string) (Table, bool)

func (f CatalogFunc) Table(name string) (Table, bool) { return f(name) }

// Kind is the kind of a parsed statement.
type Kind int

const (
	KindQuery Kind = iota
	KindExplain
	KindExplainAnalyze
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindExplain:
		return "explain"
	case KindExplainAnalyze:
		return "explain analyze"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Statement is a parsed and bound statement.
type Statement struct {
	Kind Kind
	// Plan is the plan of the query, or of the explained query for EXPLAIN
	// statements.
	Plan *logical.Plan
}

// Parse parses text, which must hold exactly one statement, and binds it
// against catalog.
func Parse(text string, catalog Catalog) (*Statement, error) {
	stmts, _, err := parser.New().ParseSQL(text)
	if err != nil {
		return nil, syntaxError(err)
	}
	switch len(stmts) {
	case 0:
		return nil, &Error{Err: ErrSyntax, msg: "empty statement"}
	case 1:
	default:
		return nil, unsupported(strings.TrimSpace(stmts[1].Text()), "expected a single statement, got %d", len(stmts))
	}

	kind := KindQuery
	node := stmts[0]
	if explain, ok := node.(*ast.ExplainStmt); ok {
		kind = KindExplain
		if explain.Analyze {
			kind = KindExplainAnalyze
		}
		node = explain.Stmt
	}

	sel, ok := node.(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(nodeName(node), "only SELECT statements are supported")
	}
	plan, err := bindSelect(sel, catalog)
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: kind, Plan: plan}, nil
}

func nodeName(n ast.Node) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", n), "*ast.")
}

func bindSelect(sel *ast.SelectStmt, catalog Catalog) (*logical.Plan, error) {
	switch {
	case sel.With != nil:
		return nil, unsupported("WITH", "common table expressions are not supported")
	case sel.Distinct:
		return nil, unsupported("DISTINCT", "DISTINCT is not supported")
	case sel.GroupBy != nil:
		return nil, unsupported("GROUP BY", "aggregations are not supported")
	case sel.Having != nil:
		return nil, unsupported("HAVING", "aggregations are not supported")
	case sel.OrderBy != nil:
		return nil, unsupported("ORDER BY", "sorting is not supported")
	case sel.WindowSpecs != nil:
		return nil, unsupported("WINDOW", "window functions are not supported")
	}

	b, err := newBinder(sel.From, catalog)
	if err != nil {
		return nil, err
	}
	builder := logical.NewBuilder(b.table.Name, b.table.Location, b.table.Schema)

	if sel.Where != nil {
		predicate, err := b.condition(sel.Where)
		if err != nil {
			return nil, err
		}
		builder = builder.Select(predicate)
	}

	if sel.Fields != nil {
		exprs, err := b.projection(sel.Fields.Fields)
		if err != nil {
			return nil, err
		}
		if exprs != nil {
			builder = builder.Project(exprs...)
		}
	}

	if sel.Limit != nil {
		skip, fetch, err := limit(sel.Limit)
		if err != nil {
			return nil, err
		}
		builder = builder.Limit(skip, fetch)
	}
	return builder.ToPlan()
}

func newBinder(from *ast.TableRefsClause, catalog Catalog) (*binder, error) {
	if from == nil || from.TableRefs == nil {
		return nil, unsupported("SELECT", "a FROM clause is required")
	}
	join := from.TableRefs
	if join.Right != nil {
		return nil, unsupported("JOIN", "joins are not supported")
	}
	source, ok := join.Left.(*ast.TableSource)
	if !ok {
		return nil, unsupported(nodeName(join.Left), "unsupported FROM clause")
	}
	name, ok := source.Source.(*ast.TableName)
	if !ok {
		return nil, unsupported(nodeName(source.Source), "subqueries are not supported")
	}
	table, ok := catalog.Table(name.Name.O)
	if !ok {
		return nil, &Error{Err: ErrTableNotFound, Identifier: name.Name.O}
	}
	return &binder{table: table, alias: source.AsName.O}, nil
}

func limit(l *ast.Limit) (skip, fetch uint64, err error) {
	if fetch, err = limitValue(l.Count); err != nil {
		return 0, 0, err
	}
	if l.Offset != nil {
		if skip, err = limitValue(l.Offset); err != nil {
			return 0, 0, err
		}
	}
	return skip, fetch, nil
}

func limitValue(node ast.ExprNode) (uint64, error) {
	if _, ok := node.(ast.ParamMarkerExpr); ok {
		return 0, unsupported("?", "parameter markers are not supported")
	}
	v, ok := node.(ast.ValueExpr)
	if !ok {
		return 0, unsupported(nodeName(node), "LIMIT requires a constant")
	}
	switch n := v.GetValue().(type) {
	case uint64:
		return n, nil
	case int64:
		if n >= 0 {
			return uint64(n), nil
		}
	}
	return 0, unsupported(fmt.Sprint(v.GetValue()), "LIMIT requires a non-negative integer")
}
