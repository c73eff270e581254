// Package expr holds the scalar expression tree shared by the planners, the
// scan pruning code and the executor.
package expr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// Expr is a scalar expression. Expressions are immutable once built.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Column references a column of the input by name.
type Column struct {
	Name string
}

// Literal is a constant value.
type Literal struct {
	Value types.Literal
}

// Unary applies a unary operator to Left.
type Unary struct {
	Op   types.UnaryOpKind
	Left Expr
}

// Binary applies a binary operator to Left and Right.
type Binary struct {
	Op          types.BinOpKind
	Left, Right Expr
}

// InList checks membership of Expr in a list of constant values.
type InList struct {
	Expr    Expr
	List    []types.Literal
	Negated bool
}

func (*Column) isExpr()  {}
func (*Literal) isExpr() {}
func (*Unary) isExpr()   {}
func (*Binary) isExpr()  {}
func (*InList) isExpr()  {}

func NewColumn(name string) *Column { return &Column{Name: name} }

func NewLiteral(v any) *Literal { return &Literal{Value: types.NewLiteral(v)} }

func NewBinary(op types.BinOpKind, left, right Expr) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func NewUnary(op types.UnaryOpKind, left Expr) *Unary {
	return &Unary{Op: op, Left: left}
}

func (e *Column) String() string { return e.Name }

func (e *Literal) String() string { return e.Value.String() }

func (e *Unary) String() string {
	if e.Op.Postfix() {
		return operand(e.Left) + " " + e.Op.String()
	}
	return e.Op.String() + " " + operand(e.Left)
}

func (e *Binary) String() string {
	return operand(e.Left) + " " + e.Op.String() + " " + operand(e.Right)
}

func (e *InList) String() string {
	values := make([]string, len(e.List))
	for i, v := range e.List {
		values[i] = v.String()
	}
	op := "IN"
	if e.Negated {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", operand(e.Expr), op, strings.Join(values, ", "))
}

// operand renders e for use inside another expression, wrapping compound
// expressions in parentheses.
func operand(e Expr) string {
	switch e.(type) {
	case *Column, *Literal:
		return e.String()
	}
	return "(" + e.String() + ")"
}

// Columns returns the sorted, distinct names of all columns referenced by e.
func Columns(exprs ...Expr) []string {
	var names []string
	for _, e := range exprs {
		Walk(e, func(e Expr) {
			if c, ok := e.(*Column); ok {
				names = append(names, c.Name)
			}
		})
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Walk calls fn for e and all its sub-expressions in pre-order.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch e := e.(type) {
	case *Unary:
		Walk(e.Left, fn)
	case *Binary:
		Walk(e.Left, fn)
		Walk(e.Right, fn)
	case *InList:
		Walk(e.Expr, fn)
	}
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// SplitConjunction splits e on top level AND operators.
func SplitConjunction(e Expr) []Expr {
	if b, ok := e.(*Binary); ok && b.Op == types.BinOpKindAnd {
		return append(SplitConjunction(b.Left), SplitConjunction(b.Right)...)
	}
	return []Expr{e}
}

// Conjunction combines exprs with AND. It returns nil for an empty list.
func Conjunction(exprs []Expr) Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = NewBinary(types.BinOpKindAnd, out, e)
	}
	return out
}

// AppendUnique appends the expressions of add that are not yet in list.
func AppendUnique(list []Expr, add ...Expr) []Expr {
	for _, e := range add {
		if !slices.ContainsFunc(list, func(x Expr) bool { return Equal(x, e) }) {
			list = append(list, e)
		}
	}
	return list
}

// ColumnComparison matches expressions of the form "column op literal" or
// "literal op column" and returns them normalized to the former.
func ColumnComparison(e Expr) (col string, op types.BinOpKind, lit types.Literal, ok bool) {
	b, isBinary := e.(*Binary)
	if !isBinary || !b.Op.IsComparison() {
		return "", 0, types.Literal{}, false
	}
	if c, l, ok := columnAndLiteral(b.Left, b.Right); ok {
		return c, b.Op, l, true
	}
	if c, l, ok := columnAndLiteral(b.Right, b.Left); ok {
		return c, b.Op.Flip(), l, true
	}
	return "", 0, types.Literal{}, false
}

func columnAndLiteral(a, b Expr) (string, types.Literal, bool) {
	c, ok := a.(*Column)
	if !ok {
		return "", types.Literal{}, false
	}
	l, ok := b.(*Literal)
	if !ok {
		return "", types.Literal{}, false
	}
	return c.Name, l.Value, true
}

// TypeOf returns the value type produced by e when evaluated against
// records of the given schema.
func TypeOf(e Expr, schema *arrow.Schema) (types.ValueType, error) {
	switch e := e.(type) {
	case *Column:
		idx := schema.FieldIndices(e.Name)
		if len(idx) == 0 {
			return types.ValueTypeInvalid, fmt.Errorf("column %q not found", e.Name)
		}
		t := types.ValueTypeOf(schema.Field(idx[0]).Type)
		if t == types.ValueTypeInvalid {
			return t, fmt.Errorf("column %q has unsupported type %s", e.Name, schema.Field(idx[0]).Type)
		}
		return t, nil
	case *Literal:
		return e.Value.Type(), nil
	case *Unary, *Binary, *InList:
		for _, name := range Columns(e) {
			if len(schema.FieldIndices(name)) == 0 {
				return types.ValueTypeInvalid, fmt.Errorf("column %q not found", name)
			}
		}
		return types.ValueTypeBool, nil
	}
	return types.ValueTypeInvalid, fmt.Errorf("unsupported expression %T", e)
}
