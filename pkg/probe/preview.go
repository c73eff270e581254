package probe

import (
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// TruncationMarker is appended to preview values that were cut.
const TruncationMarker = "..."

// PreviewRow is a single previewed value. Index counts rows across all
// batches, starting at 0.
type PreviewRow struct {
	Index     int
	Text      string
	Truncated bool
}

// Preview returns up to maxRows values of column, in batch then row order.
// Values longer than maxValueLength characters are cut on a character
// boundary and suffixed with [TruncationMarker]; binary values are decoded
// as UTF-8 with invalid sequences replaced. NULL values render as "NULL".
//
// The column must exist in every batch and hold strings or binary values,
// otherwise a [*ColumnError] is returned before any row is produced.
func Preview(batches []arrow.Record, column string, maxRows, maxValueLength int) ([]PreviewRow, error) {
	for _, b := range batches {
		if err := checkColumn(b.Schema(), column); err != nil {
			return nil, err
		}
	}

	var rows []PreviewRow
	for _, b := range batches {
		col := b.Column(b.Schema().FieldIndices(column)[0])
		for i := 0; i < col.Len(); i++ {
			if len(rows) >= maxRows {
				return rows, nil
			}
			text, truncated := "NULL", false
			if col.IsValid(i) {
				text, truncated = truncate(valueText(col, i), maxValueLength)
			}
			rows = append(rows, PreviewRow{Index: len(rows), Text: text, Truncated: truncated})
		}
	}
	return rows, nil
}

// Preview is like [Preview] but also checks the column against the result
// schema, so that a missing column is reported for empty results too.
func (r *Result) Preview(column string, maxRows, maxValueLength int) ([]PreviewRow, error) {
	if r.Schema != nil {
		if err := checkColumn(r.Schema, column); err != nil {
			return nil, err
		}
	}
	return Preview(r.Batches, column, maxRows, maxValueLength)
}

func checkColumn(schema *arrow.Schema, column string) error {
	indices := schema.FieldIndices(column)
	switch len(indices) {
	case 0:
		return &ColumnError{ErrKind: NotFound, Column: column, Reason: "not found in result"}
	case 1:
	default:
		return &ColumnError{ErrKind: NotFound, Column: column, Reason: "ambiguous column name"}
	}
	switch schema.Field(indices[0]).Type.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.BINARY, arrow.LARGE_BINARY:
		return nil
	}
	return &ColumnError{ErrKind: NotFound, Column: column, Reason: "not a string or binary column, got " + schema.Field(indices[0]).Type.String()}
}

func valueText(col arrow.Array, i int) string {
	switch col := col.(type) {
	case *array.String:
		return col.Value(i)
	case *array.LargeString:
		return col.Value(i)
	case *array.Binary:
		return strings.ToValidUTF8(string(col.Value(i)), string(utf8.RuneError))
	case *array.LargeBinary:
		return strings.ToValidUTF8(string(col.Value(i)), string(utf8.RuneError))
	}
	return col.ValueStr(i)
}

// truncate cuts s after max runes.
func truncate(s string, max int) (string, bool) {
	if max < 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + TruncationMarker, true
		}
		n++
	}
	return s, false
}
