package types

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Literal is a typed scalar value. The zero value is a NULL literal.
type Literal struct {
	typ ValueType
	v   any
}

// NewLiteral creates a Literal from a Go value. Integer and float kinds are
// widened to 64 bits; byte slices are copied.
func NewLiteral(v any) Literal {
	switch v := v.(type) {
	case nil:
		return Literal{typ: ValueTypeNull}
	case Literal:
		return v
	case bool:
		return Literal{typ: ValueTypeBool, v: v}
	case int:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case int8:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case int16:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case int32:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case int64:
		return Literal{typ: ValueTypeInt, v: v}
	case uint8:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case uint16:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case uint32:
		return Literal{typ: ValueTypeInt, v: int64(v)}
	case float32:
		return Literal{typ: ValueTypeFloat, v: float64(v)}
	case float64:
		return Literal{typ: ValueTypeFloat, v: v}
	case string:
		return Literal{typ: ValueTypeStr, v: v}
	case []byte:
		return Literal{typ: ValueTypeByteArray, v: bytes.Clone(v)}
	default:
		panic(fmt.Sprintf("unsupported literal type %T", v))
	}
}

// Type returns the ValueType of the literal.
func (l Literal) Type() ValueType {
	if l.typ == ValueTypeInvalid {
		return ValueTypeNull
	}
	return l.typ
}

// IsNull reports whether l is the NULL literal.
func (l Literal) IsNull() bool { return l.Type() == ValueTypeNull }

// Any returns the underlying Go value of l.
func (l Literal) Any() any { return l.v }

func (l Literal) Bool() bool {
	switch v := l.v.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

func (l Literal) Int() int64 {
	switch v := l.v.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func (l Literal) Float() float64 {
	switch v := l.v.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Bytes returns the byte representation of string and byte array literals.
func (l Literal) Bytes() []byte {
	switch v := l.v.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

// Str returns the textual value of string and byte array literals.
func (l Literal) Str() string {
	switch v := l.v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// String renders l as it would appear in SQL text.
func (l Literal) String() string {
	switch l.Type() {
	case ValueTypeNull:
		return "NULL"
	case ValueTypeBool:
		return strconv.FormatBool(l.Bool())
	case ValueTypeInt:
		return strconv.FormatInt(l.Int(), 10)
	case ValueTypeFloat:
		return strconv.FormatFloat(l.Float(), 'g', -1, 64)
	case ValueTypeStr:
		return "'" + strings.ReplaceAll(l.Str(), "'", "''") + "'"
	case ValueTypeByteArray:
		return "X'" + hex.EncodeToString(l.Bytes()) + "'"
	}
	return typeInvalid
}

// Compare compares a and b. The boolean result is false when the values are
// not comparable, which includes either of them being NULL.
func Compare(a, b Literal) (int, bool) {
	at, bt := a.Type(), b.Type()
	switch {
	case at == ValueTypeNull || bt == ValueTypeNull:
		return 0, false
	case at.Numeric() && bt.Numeric():
		if at != ValueTypeFloat && bt != ValueTypeFloat {
			return cmp.Compare(a.Int(), b.Int()), true
		}
		return cmp.Compare(a.Float(), b.Float()), true
	case at.Bytes() && bt.Bytes():
		return bytes.Compare(a.Bytes(), b.Bytes()), true
	}
	return 0, false
}

// Equal reports whether a and b are comparable and equal.
func Equal(a, b Literal) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// HasPrefix reports whether the byte value of l begins with prefix. Both
// literals must be strings or byte arrays.
func HasPrefix(l, prefix Literal) bool {
	if !l.Type().Bytes() || !prefix.Type().Bytes() {
		return false
	}
	return bytes.HasPrefix(l.Bytes(), prefix.Bytes())
}
