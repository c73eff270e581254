package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// ReaderOptions configures a [Reader].
type ReaderOptions struct {
	// Columns to read, in output order. Nil reads all columns.
	Columns []string
	// BatchSize is the maximum number of rows per record.
	BatchSize int
	// Plan restricts the rows that are read. A zero plan reads nothing; use
	// [Relation.Prune] without predicates to read every row.
	Plan ScanPlan
}

// Reader reads the rows selected by a [ScanPlan] as Arrow records.
type Reader struct {
	rel    *Relation
	alloc  memory.Allocator
	schema *arrow.Schema
	cols   []column
	// output position of each leaf column, or -1 if it is not read.
	outputs   []int
	batchSize int

	plan     ScanPlan
	rgIdx    int // index into plan.RowGroups
	rangeIdx int
	rows     parquet.Rows
	pos      int64 // position of rows within the current row group
	buf      []parquet.Row
}

// NewReader creates a reader over r. Unknown columns return an error.
func (r *Relation) NewReader(opts ReaderOptions, alloc memory.Allocator) (*Reader, error) {
	names := opts.Columns
	if names == nil {
		names = make([]string, len(r.columns))
		for i, c := range r.columns {
			names[i] = c.name
		}
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", opts.BatchSize)
	}

	rd := &Reader{
		rel:       r,
		alloc:     alloc,
		batchSize: opts.BatchSize,
		plan:      opts.Plan,
		outputs:   make([]int, len(r.columns)),
	}
	for i := range rd.outputs {
		rd.outputs[i] = -1
	}

	fields := make([]arrow.Field, 0, len(names))
	for i, name := range names {
		col, ok := r.columnByName(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found in %s", name, r.location)
		}
		if rd.outputs[col.leaf] >= 0 {
			return nil, fmt.Errorf("column %q selected twice", name)
		}
		rd.outputs[col.leaf] = i
		rd.cols = append(rd.cols, col)
		fields = append(fields, r.schema.Field(col.leaf))
	}
	rd.schema = arrow.NewSchema(fields, nil)
	return rd, nil
}

// Schema returns the schema of the records returned by Read.
func (rd *Reader) Schema() *arrow.Schema { return rd.schema }

// Read returns the next record of at most BatchSize rows. It returns
// io.EOF once all selected rows have been read.
func (rd *Reader) Read(ctx context.Context) (arrow.Record, error) {
	builders := make([]array.Builder, len(rd.cols))
	for i := range builders {
		builders[i] = array.NewBuilder(rd.alloc, rd.schema.Field(i).Type)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	var n int
	for n < rd.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rd.rows == nil && !rd.nextRowGroup() {
			break
		}

		scan := rd.plan.RowGroups[rd.rgIdx]
		rng := scan.Ranges[rd.rangeIdx]
		if rd.pos < rng.Start {
			if err := rd.rows.SeekToRow(rng.Start); err != nil {
				return nil, fmt.Errorf("%w: seeking to row %d of row group %d: %w", ErrRead, rng.Start, scan.Index, err)
			}
			rd.pos = rng.Start
		}

		want := int(min(int64(rd.batchSize-n), rng.End-rd.pos))
		if cap(rd.buf) < want {
			rd.buf = make([]parquet.Row, want)
		}
		k, err := rd.rows.ReadRows(rd.buf[:want])
		for _, row := range rd.buf[:k] {
			rd.appendRow(builders, row)
		}
		n += k
		rd.pos += int64(k)

		exhausted := errors.Is(err, io.EOF) || (err == nil && k == 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: reading row group %d: %w", ErrRead, scan.Index, err)
		}
		if rd.pos >= rng.End || exhausted {
			rd.rangeIdx++
			if rd.rangeIdx >= len(scan.Ranges) || exhausted {
				rd.closeRowGroup()
				rd.rgIdx++
			}
		}
	}

	if n == 0 {
		return nil, io.EOF
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(rd.schema, cols, int64(n))
	for _, c := range cols {
		c.Release()
	}
	return rec, nil
}

func (rd *Reader) nextRowGroup() bool {
	if rd.rgIdx >= len(rd.plan.RowGroups) {
		return false
	}
	scan := rd.plan.RowGroups[rd.rgIdx]
	rd.rows = rd.rel.pf.RowGroups()[scan.Index].Rows()
	rd.rangeIdx = 0
	rd.pos = 0
	return true
}

func (rd *Reader) closeRowGroup() {
	if rd.rows != nil {
		_ = rd.rows.Close()
		rd.rows = nil
	}
}

func (rd *Reader) appendRow(builders []array.Builder, row parquet.Row) {
	for _, v := range row {
		leaf := v.Column()
		if leaf < 0 || leaf >= len(rd.outputs) || rd.outputs[leaf] < 0 {
			continue
		}
		out := rd.outputs[leaf]
		appendValue(builders[out], rd.cols[out], v)
	}
}

func appendValue(b array.Builder, col column, v parquet.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	case *array.BinaryBuilder:
		b.Append(v.ByteArray())
	default:
		panic(fmt.Sprintf("unexpected builder %T for column %s", b, col.name))
	}
}

// Close releases the resources of the reader. It does not close the
// relation.
func (rd *Reader) Close() error {
	rd.closeRowGroup()
	rd.rgIdx = len(rd.plan.RowGroups)
	return nil
}
