// Package arrowtest provides helpers for building and inspecting Arrow
// records in tests.
package arrowtest

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Rows is a list of rows, where each row maps column names to values.
// Missing keys and nil values are NULL.
type Rows []map[string]any

// Record builds a record with the given schema from rows. Supported column
// types are bool, int32, int64, float32, float64, utf8 and binary.
func (rows Rows) Record(alloc memory.Allocator, schema *arrow.Schema) arrow.Record {
	builders := make([]array.Builder, schema.NumFields())
	for i, field := range schema.Fields() {
		builders[i] = array.NewBuilder(alloc, field.Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for _, row := range rows {
		for i, field := range schema.Fields() {
			appendValue(builders[i], row[field.Name])
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(schema, cols, int64(len(rows)))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func appendValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.Int32Builder:
		b.Append(v.(int32))
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.Float32Builder:
		b.Append(v.(float32))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.StringBuilder:
		b.Append(v.(string))
	case *array.BinaryBuilder:
		b.Append(v.([]byte))
	default:
		panic(fmt.Sprintf("arrowtest: unsupported builder %T", b))
	}
}

// RecordRows converts a record into Rows. NULL values are omitted from the
// row maps.
func RecordRows(rec arrow.Record) (Rows, error) {
	rows := make(Rows, rec.NumRows())
	for i := range rows {
		rows[i] = map[string]any{}
	}

	for c, field := range rec.Schema().Fields() {
		col := rec.Column(c)
		for i := range rows {
			if col.IsNull(i) {
				continue
			}
			v, err := value(col, i)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", field.Name, err)
			}
			rows[i][field.Name] = v
		}
	}
	return rows, nil
}

// TableRows converts all records into a single list of rows.
func TableRows(recs []arrow.Record) (Rows, error) {
	var out Rows
	for _, rec := range recs {
		rows, err := RecordRows(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func value(col arrow.Array, i int) (any, error) {
	switch col := col.(type) {
	case *array.Boolean:
		return col.Value(i), nil
	case *array.Int32:
		return col.Value(i), nil
	case *array.Int64:
		return col.Value(i), nil
	case *array.Float32:
		return col.Value(i), nil
	case *array.Float64:
		return col.Value(i), nil
	case *array.String:
		return col.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), col.Value(i)...), nil
	}
	return nil, fmt.Errorf("unsupported array type %s", col.DataType())
}
