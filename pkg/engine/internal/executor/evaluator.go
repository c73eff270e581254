package executor

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// rowFunc evaluates an expression for a single row of the record it was
// bound to. A NULL literal is returned for unknown results.
type rowFunc func(row int) types.Literal

type expressionEvaluator struct {
	alloc memory.Allocator
}

func newExpressionEvaluator(alloc memory.Allocator) expressionEvaluator {
	return expressionEvaluator{alloc: alloc}
}

// eval evaluates e for every row of batch and returns an array of type dt.
func (e expressionEvaluator) eval(ex expr.Expr, batch arrow.Record, dt arrow.DataType) (arrow.Array, error) {
	fn, err := bind(ex, batch)
	if err != nil {
		return nil, err
	}

	builder := array.NewBuilder(e.alloc, dt)
	defer builder.Release()
	builder.Reserve(int(batch.NumRows()))

	for i := range int(batch.NumRows()) {
		if err := appendLiteral(builder, fn(i)); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}

// predicate binds ex to batch and returns a function that reports whether
// a row satisfies it. NULL results do not satisfy the predicate.
func (e expressionEvaluator) predicate(ex expr.Expr, batch arrow.Record) (func(int) bool, error) {
	fn, err := bind(ex, batch)
	if err != nil {
		return nil, err
	}
	return func(row int) bool {
		v := fn(row)
		return v.Type() == types.ValueTypeBool && v.Bool()
	}, nil
}

func bind(ex expr.Expr, batch arrow.Record) (rowFunc, error) {
	switch ex := ex.(type) {
	case *expr.Literal:
		v := ex.Value
		return func(int) types.Literal { return v }, nil

	case *expr.Column:
		idx := batch.Schema().FieldIndices(ex.Name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("column %q not found in input", ex.Name)
		}
		return columnReader(batch.Column(idx[0]))

	case *expr.Unary:
		return bindUnary(ex, batch)

	case *expr.Binary:
		return bindBinary(ex, batch)

	case *expr.InList:
		value, err := bind(ex.Expr, batch)
		if err != nil {
			return nil, err
		}
		list := ex.List
		return func(row int) types.Literal {
			v := value(row)
			if v.IsNull() {
				return types.NewLiteral(nil)
			}
			sawNull := false
			for _, item := range list {
				if item.IsNull() {
					sawNull = true
					continue
				}
				if types.Equal(v, item) {
					return types.NewLiteral(!ex.Negated)
				}
			}
			if sawNull {
				return types.NewLiteral(nil)
			}
			return types.NewLiteral(ex.Negated)
		}, nil
	}
	return nil, fmt.Errorf("unsupported expression %T", ex)
}

func columnReader(col arrow.Array) (rowFunc, error) {
	null := types.NewLiteral(nil)
	wrap := func(get func(int) any) rowFunc {
		return func(row int) types.Literal {
			if col.IsNull(row) {
				return null
			}
			return types.NewLiteral(get(row))
		}
	}

	switch col := col.(type) {
	case *array.Null:
		return func(int) types.Literal { return null }, nil
	case *array.Boolean:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.Int32:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.Int64:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.Float32:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.Float64:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.String:
		return wrap(func(i int) any { return col.Value(i) }), nil
	case *array.Binary:
		return wrap(func(i int) any { return col.Value(i) }), nil
	}
	return nil, fmt.Errorf("unsupported column type %s", col.DataType())
}

func bindUnary(ex *expr.Unary, batch arrow.Record) (rowFunc, error) {
	operand, err := bind(ex.Left, batch)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case types.UnaryOpKindNot:
		return func(row int) types.Literal {
			v := operand(row)
			if v.IsNull() {
				return v
			}
			return types.NewLiteral(!v.Bool())
		}, nil
	case types.UnaryOpKindIsNull:
		return func(row int) types.Literal { return types.NewLiteral(operand(row).IsNull()) }, nil
	case types.UnaryOpKindIsNotNull:
		return func(row int) types.Literal { return types.NewLiteral(!operand(row).IsNull()) }, nil
	}
	return nil, fmt.Errorf("unsupported unary operator %s", ex.Op)
}

func bindBinary(ex *expr.Binary, batch arrow.Record) (rowFunc, error) {
	left, err := bind(ex.Left, batch)
	if err != nil {
		return nil, err
	}
	right, err := bind(ex.Right, batch)
	if err != nil {
		return nil, err
	}

	switch {
	case ex.Op == types.BinOpKindAnd:
		return func(row int) types.Literal {
			l, r := left(row), right(row)
			if isFalse(l) || isFalse(r) {
				return types.NewLiteral(false)
			}
			if l.IsNull() || r.IsNull() {
				return types.NewLiteral(nil)
			}
			return types.NewLiteral(true)
		}, nil

	case ex.Op == types.BinOpKindOr:
		return func(row int) types.Literal {
			l, r := left(row), right(row)
			if isTrue(l) || isTrue(r) {
				return types.NewLiteral(true)
			}
			if l.IsNull() || r.IsNull() {
				return types.NewLiteral(nil)
			}
			return types.NewLiteral(false)
		}, nil

	case ex.Op.IsComparison():
		if err := checkComparable(ex, batch.Schema()); err != nil {
			return nil, err
		}
		return func(row int) types.Literal {
			c, ok := types.Compare(left(row), right(row))
			if !ok {
				return types.NewLiteral(nil)
			}
			return types.NewLiteral(compareResult(ex.Op, c))
		}, nil

	case ex.Op == types.BinOpKindLike || ex.Op == types.BinOpKindNotLike:
		negated := ex.Op == types.BinOpKindNotLike
		return func(row int) types.Literal {
			s, pattern := left(row), right(row)
			if s.IsNull() || pattern.IsNull() {
				return types.NewLiteral(nil)
			}
			return types.NewLiteral(types.MatchLike(s.Str(), pattern.Str()) != negated)
		}, nil
	}
	return nil, fmt.Errorf("unsupported binary operator %s", ex.Op)
}

// checkComparable returns an error if the operands of a comparison can
// never be compared, such as a string column and an integer literal.
func checkComparable(ex *expr.Binary, schema *arrow.Schema) error {
	lt, err := expr.TypeOf(ex.Left, schema)
	if err != nil {
		return err
	}
	rt, err := expr.TypeOf(ex.Right, schema)
	if err != nil {
		return err
	}
	if lt == types.ValueTypeNull || rt == types.ValueTypeNull {
		return nil
	}
	if (lt.Numeric() && rt.Numeric()) || (lt.Bytes() && rt.Bytes()) {
		return nil
	}
	return fmt.Errorf("can not compare %s with %s in %s", lt, rt, ex)
}

func isTrue(v types.Literal) bool  { return v.Type() == types.ValueTypeBool && v.Bool() }
func isFalse(v types.Literal) bool { return v.Type() == types.ValueTypeBool && !v.Bool() }

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

// appendLiteral appends v to b, converting numeric values to the width of
// the builder.
func appendLiteral(b array.Builder, v types.Literal) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Bool())
	case *array.Int32Builder:
		b.Append(int32(v.Int()))
	case *array.Int64Builder:
		b.Append(v.Int())
	case *array.Float32Builder:
		b.Append(float32(v.Float()))
	case *array.Float64Builder:
		b.Append(v.Float())
	case *array.StringBuilder:
		b.Append(v.Str())
	case *array.BinaryBuilder:
		b.Append(v.Bytes())
	default:
		return fmt.Errorf("unsupported output type %s", b.Type())
	}
	return nil
}
