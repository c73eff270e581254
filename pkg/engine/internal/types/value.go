package types

import (
	"github.com/apache/arrow-go/v18/arrow"
)

const (
	typeInvalid = "invalid"
)

// ValueType represents the type of a value, which can either be a literal value, or a column value.
type ValueType uint32

const (
	ValueTypeInvalid ValueType = iota // zero-value is an invalid type

	ValueTypeNull      // NULL value.
	ValueTypeBool      // Boolean value
	ValueTypeInt       // Signed 64bit integer value
	ValueTypeFloat     // 64bit floating point value
	ValueTypeStr       // UTF-8 string value
	ValueTypeByteArray // Byte-slice value
)

// String returns the string representation of the ValueType.
func (t ValueType) String() string {
	switch t {
	case ValueTypeInvalid:
		return typeInvalid
	case ValueTypeNull:
		return "null"
	case ValueTypeBool:
		return "bool"
	case ValueTypeFloat:
		return "float"
	case ValueTypeInt:
		return "int"
	case ValueTypeStr:
		return "string"
	case ValueTypeByteArray:
		return "[]byte"
	default:
		return typeInvalid
	}
}

// Numeric reports whether values of t can be compared numerically.
func (t ValueType) Numeric() bool {
	return t == ValueTypeInt || t == ValueTypeFloat || t == ValueTypeBool
}

// Bytes reports whether values of t are compared bytewise.
func (t ValueType) Bytes() bool {
	return t == ValueTypeStr || t == ValueTypeByteArray
}

// ArrowType returns the Arrow data type used to store columns of values of t.
func (t ValueType) ArrowType() arrow.DataType {
	switch t {
	case ValueTypeBool:
		return arrow.FixedWidthTypes.Boolean
	case ValueTypeInt:
		return arrow.PrimitiveTypes.Int64
	case ValueTypeFloat:
		return arrow.PrimitiveTypes.Float64
	case ValueTypeStr:
		return arrow.BinaryTypes.String
	case ValueTypeByteArray:
		return arrow.BinaryTypes.Binary
	default:
		return arrow.Null
	}
}

// ValueTypeOf returns the ValueType that values of the Arrow type dt are
// converted to when evaluated. Unsupported types return ValueTypeInvalid.
func ValueTypeOf(dt arrow.DataType) ValueType {
	switch dt.ID() {
	case arrow.NULL:
		return ValueTypeNull
	case arrow.BOOL:
		return ValueTypeBool
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return ValueTypeInt
	case arrow.FLOAT32, arrow.FLOAT64:
		return ValueTypeFloat
	case arrow.STRING, arrow.LARGE_STRING:
		return ValueTypeStr
	case arrow.BINARY, arrow.LARGE_BINARY:
		return ValueTypeByteArray
	default:
		return ValueTypeInvalid
	}
}
