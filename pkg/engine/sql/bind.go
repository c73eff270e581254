package sql

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
)

var binaryOps = map[opcode.Op]types.BinOpKind{
	opcode.EQ:       types.BinOpKindEq,
	opcode.NE:       types.BinOpKindNeq,
	opcode.LT:       types.BinOpKindLt,
	opcode.LE:       types.BinOpKindLte,
	opcode.GT:       types.BinOpKindGt,
	opcode.GE:       types.BinOpKindGte,
	opcode.LogicAnd: types.BinOpKindAnd,
	opcode.LogicOr:  types.BinOpKindOr,
}

// binder converts expressions of a single-table query, resolving column
// references against the table schema.
type binder struct {
	table Table
	alias string
}

// projection converts the select list. It returns nil when the list is a
// single unqualified or table-qualified wildcard, which keeps every column.
func (b *binder) projection(fields []*ast.SelectField) ([]logical.NamedExpr, error) {
	if len(fields) == 1 && fields[0].WildCard != nil {
		return nil, b.checkQualifier(fields[0].WildCard.Table.O, "*")
	}

	var exprs []logical.NamedExpr
	for _, field := range fields {
		if field.WildCard != nil {
			if err := b.checkQualifier(field.WildCard.Table.O, "*"); err != nil {
				return nil, err
			}
			for _, f := range b.table.Schema.Fields() {
				exprs = append(exprs, logical.NamedExpr{Expr: expr.NewColumn(f.Name), Name: f.Name})
			}
			continue
		}

		e, err := b.expr(field.Expr)
		if err != nil {
			return nil, err
		}
		name := field.AsName.O
		if name == "" {
			name = e.String()
		}
		exprs = append(exprs, logical.NamedExpr{Expr: e, Name: name})
	}
	return exprs, nil
}

// condition converts an expression used as a boolean. Integer constants are
// truthy when non-zero, so that TRUE and FALSE, which the parser returns as
// 1 and 0, stay boolean.
func (b *binder) condition(node ast.ExprNode) (expr.Expr, error) {
	e, err := b.expr(node)
	if err != nil {
		return nil, err
	}
	if lit, ok := e.(*expr.Literal); ok && lit.Value.Type() == types.ValueTypeInt {
		return expr.NewLiteral(lit.Value.Int() != 0), nil
	}
	return e, nil
}

func (b *binder) expr(node ast.ExprNode) (expr.Expr, error) {
	switch n := node.(type) {
	case *ast.ParenthesesExpr:
		return b.expr(n.Expr)

	case *ast.ColumnNameExpr:
		return b.column(n.Name)

	case ast.ParamMarkerExpr:
		return nil, unsupported("?", "parameter markers are not supported")

	case ast.ValueExpr:
		lit, err := literal(n)
		if err != nil {
			return nil, err
		}
		return &expr.Literal{Value: lit}, nil

	case *ast.UnaryOperationExpr:
		return b.unary(n)

	case *ast.BinaryOperationExpr:
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, unsupported(n.Op.String(), "unsupported operator")
		}
		convert := b.expr
		if op.IsLogical() {
			convert = b.condition
		}
		left, err := convert(n.L)
		if err != nil {
			return nil, err
		}
		right, err := convert(n.R)
		if err != nil {
			return nil, err
		}
		return expr.NewBinary(op, left, right), nil

	case *ast.IsNullExpr:
		e, err := b.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		if n.Not {
			return expr.NewUnary(types.UnaryOpKindIsNotNull, e), nil
		}
		return expr.NewUnary(types.UnaryOpKindIsNull, e), nil

	case *ast.PatternInExpr:
		return b.in(n)

	case *ast.PatternLikeOrIlikeExpr:
		return b.like(n)

	case *ast.BetweenExpr:
		return b.between(n)
	}
	return nil, unsupported(nodeName(node), "unsupported expression")
}

func (b *binder) unary(n *ast.UnaryOperationExpr) (expr.Expr, error) {
	switch n.Op {
	case opcode.Not:
		e, err := b.condition(n.V)
		if err != nil {
			return nil, err
		}
		return expr.NewUnary(types.UnaryOpKindNot, e), nil
	case opcode.Plus:
		return b.expr(n.V)
	case opcode.Minus:
		e, err := b.expr(n.V)
		if err != nil {
			return nil, err
		}
		if lit, ok := e.(*expr.Literal); ok {
			switch lit.Value.Type() {
			case types.ValueTypeInt:
				return expr.NewLiteral(-lit.Value.Int()), nil
			case types.ValueTypeFloat:
				return expr.NewLiteral(-lit.Value.Float()), nil
			}
		}
		return nil, unsupported("-", "negation is only supported on numeric constants")
	}
	return nil, unsupported(n.Op.String(), "unsupported operator")
}

func (b *binder) in(n *ast.PatternInExpr) (expr.Expr, error) {
	if n.Sel != nil {
		return nil, unsupported("IN", "subqueries are not supported")
	}
	e, err := b.expr(n.Expr)
	if err != nil {
		return nil, err
	}
	list := make([]types.Literal, 0, len(n.List))
	for _, item := range n.List {
		v, err := b.expr(item)
		if err != nil {
			return nil, err
		}
		lit, ok := v.(*expr.Literal)
		if !ok {
			return nil, unsupported(v.String(), "IN lists may only contain constants")
		}
		list = append(list, lit.Value)
	}
	return &expr.InList{Expr: e, List: list, Negated: n.Not}, nil
}

func (b *binder) like(n *ast.PatternLikeOrIlikeExpr) (expr.Expr, error) {
	if !n.IsLike {
		return nil, unsupported("ILIKE", "ILIKE is not supported")
	}
	if n.Escape != '\\' {
		return nil, unsupported(string(n.Escape), "custom LIKE escape characters are not supported")
	}
	e, err := b.expr(n.Expr)
	if err != nil {
		return nil, err
	}
	pattern, err := b.expr(n.Pattern)
	if err != nil {
		return nil, err
	}
	if lit, ok := pattern.(*expr.Literal); !ok || lit.Value.Type() != types.ValueTypeStr {
		return nil, unsupported(pattern.String(), "LIKE patterns must be string constants")
	}
	op := types.BinOpKindLike
	if n.Not {
		op = types.BinOpKindNotLike
	}
	return expr.NewBinary(op, e, pattern), nil
}

// between rewrites x BETWEEN lo AND hi into comparisons, so that the
// bounds stay visible to pruning.
func (b *binder) between(n *ast.BetweenExpr) (expr.Expr, error) {
	e, err := b.expr(n.Expr)
	if err != nil {
		return nil, err
	}
	lo, err := b.expr(n.Left)
	if err != nil {
		return nil, err
	}
	hi, err := b.expr(n.Right)
	if err != nil {
		return nil, err
	}
	if n.Not {
		return expr.NewBinary(types.BinOpKindOr,
			expr.NewBinary(types.BinOpKindLt, e, lo),
			expr.NewBinary(types.BinOpKindGt, e, hi),
		), nil
	}
	return expr.NewBinary(types.BinOpKindAnd,
		expr.NewBinary(types.BinOpKindGte, e, lo),
		expr.NewBinary(types.BinOpKindLte, e, hi),
	), nil
}

func (b *binder) column(name *ast.ColumnName) (expr.Expr, error) {
	if err := b.checkQualifier(name.Table.O, name.Name.O); err != nil {
		return nil, err
	}
	resolved, ok := b.resolve(name.Name.O)
	if !ok {
		return nil, &Error{Err: ErrColumnNotFound, Identifier: name.Name.O}
	}
	return expr.NewColumn(resolved), nil
}

// resolve looks up a column by its exact name first and falls back to a
// case-insensitive match, as MySQL does.
func (b *binder) resolve(name string) (string, bool) {
	fields := b.table.Schema.Fields()
	for _, f := range fields {
		if f.Name == name {
			return f.Name, true
		}
	}
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Name, true
		}
	}
	return "", false
}

func (b *binder) checkQualifier(qualifier, column string) error {
	if qualifier == "" || strings.EqualFold(qualifier, b.table.Name) || (b.alias != "" && strings.EqualFold(qualifier, b.alias)) {
		return nil
	}
	return &Error{Err: ErrColumnNotFound, Identifier: qualifier + "." + column, msg: fmt.Sprintf("unknown table %q", qualifier)}
}

func literal(v ast.ValueExpr) (types.Literal, error) {
	switch val := v.GetValue().(type) {
	case nil, int64, float64, string, []byte:
		return types.NewLiteral(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return types.Literal{}, unsupported(strconv.FormatUint(val, 10), "integer constant out of range")
		}
		return types.NewLiteral(int64(val)), nil
	case float32:
		return types.NewLiteral(float64(val)), nil
	case fmt.Stringer:
		// Decimal constants.
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return types.Literal{}, unsupported(val.String(), "unsupported constant")
		}
		return types.NewLiteral(f), nil
	default:
		return types.Literal{}, unsupported(fmt.Sprint(val), "unsupported constant of type %T", val)
	}
}
