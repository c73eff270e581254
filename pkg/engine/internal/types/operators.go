package types

import "fmt"

// UnaryOpKind denotes the kind of unary operation to perform.
type UnaryOpKind int

// Recognized values of [UnaryOpKind].
const (
	// UnaryOpKindInvalid indicates an invalid unary operation.
	UnaryOpKindInvalid UnaryOpKind = iota

	UnaryOpKindNot       // Logical NOT operation.
	UnaryOpKindIsNull    // IS NULL check.
	UnaryOpKindIsNotNull // IS NOT NULL check.
)

var unaryOpKindStrings = map[UnaryOpKind]string{
	UnaryOpKindInvalid: "invalid",

	UnaryOpKindNot:       "NOT",
	UnaryOpKindIsNull:    "IS NULL",
	UnaryOpKindIsNotNull: "IS NOT NULL",
}

// String returns the string representation of the UnaryOpKind.
func (k UnaryOpKind) String() string {
	if s, ok := unaryOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("UnaryOpKind(%d)", k)
}

// Postfix reports whether the operator is written after its operand.
func (k UnaryOpKind) Postfix() bool {
	return k == UnaryOpKindIsNull || k == UnaryOpKindIsNotNull
}

// BinOpKind denotes the kind of binary operation to perform.
type BinOpKind int

// Recognized values of [BinOpKind].
const (
	// BinOpKindInvalid indicates an invalid binary operation.
	BinOpKindInvalid BinOpKind = iota

	BinOpKindEq  // Equality comparison (=).
	BinOpKindNeq // Inequality comparison (!=).
	BinOpKindGt  // Greater than comparison (>).
	BinOpKindGte // Greater than or equal comparison (>=).
	BinOpKindLt  // Less than comparison (<).
	BinOpKindLte // Less than or equal comparison (<=).
	BinOpKindAnd // Logical AND operation.
	BinOpKindOr  // Logical OR operation.

	BinOpKindLike    // SQL LIKE pattern match.
	BinOpKindNotLike // Negated SQL LIKE pattern match.
)

var binOpKindStrings = map[BinOpKind]string{
	BinOpKindInvalid: "invalid",

	BinOpKindEq:  "=",
	BinOpKindNeq: "!=",
	BinOpKindGt:  ">",
	BinOpKindGte: ">=",
	BinOpKindLt:  "<",
	BinOpKindLte: "<=",
	BinOpKindAnd: "AND",
	BinOpKindOr:  "OR",

	BinOpKindLike:    "LIKE",
	BinOpKindNotLike: "NOT LIKE",
}

// String returns a human-readable representation of the binary operation kind.
func (k BinOpKind) String() string {
	if s, ok := binOpKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("BinOpKind(%d)", k)
}

// IsComparison reports whether k compares two values of the same domain.
func (k BinOpKind) IsComparison() bool {
	switch k {
	case BinOpKindEq, BinOpKindNeq, BinOpKindGt, BinOpKindGte, BinOpKindLt, BinOpKindLte:
		return true
	}
	return false
}

// IsLogical reports whether k combines two boolean operands.
func (k BinOpKind) IsLogical() bool {
	return k == BinOpKindAnd || k == BinOpKindOr
}

// Flip returns the comparison that holds when the operands of k are swapped,
// so that "lit < col" can be rewritten as "col > lit".
func (k BinOpKind) Flip() BinOpKind {
	switch k {
	case BinOpKindGt:
		return BinOpKindLt
	case BinOpKindGte:
		return BinOpKindLte
	case BinOpKindLt:
		return BinOpKindGt
	case BinOpKindLte:
		return BinOpKindGte
	}
	return k
}
