// Package source reads flat Parquet files as relations: their Arrow schema,
// their column statistics and their rows, restricted to the row groups and
// pages that can satisfy a filter.
package source

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"

	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

var (
	// ErrUnsupportedSchema is returned for files with nested, repeated or
	// otherwise unsupported columns.
	ErrUnsupportedSchema = errors.New("unsupported parquet schema")

	// ErrInvalidFile is returned when a file can not be decoded as Parquet.
	ErrInvalidFile = errors.New("invalid parquet file")

	// ErrRead is returned when reading rows of an opened file fails.
	ErrRead = errors.New("parquet read error")
)

// Relation is an opened Parquet file. A Relation is safe for concurrent
// use by multiple readers.
type Relation struct {
	location string
	file     afero.File
	pf       *parquet.File

	schema  *arrow.Schema
	columns []column
	stats   Statistics

	// pages caches the page index of every column chunk, indexed by row
	// group and then by column.
	pages [][]pageIndex
}

type column struct {
	name string
	leaf int
	kind parquet.Kind
	typ  types.ValueType
}

type pageIndex struct {
	column parquet.ColumnIndex
	offset parquet.OffsetIndex
}

func (p pageIndex) valid() bool {
	return p.column != nil && p.offset != nil && p.column.NumPages() == p.offset.NumPages()
}

// Location strips the file:// scheme from uri.
func Location(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// Open opens the Parquet file at uri, which is either a path or a file://
// URL, and reads its schema, statistics and page index.
func Open(fs afero.Fs, uri string) (*Relation, error) {
	path := Location(uri)

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}

	pf, err := parquet.OpenFile(&syncReaderAt{r: f}, info.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFile, path, err)
	}

	rel := &Relation{
		location: path,
		file:     f,
		pf:       pf,
	}
	if err := rel.init(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rel, nil
}

func (r *Relation) init() error {
	fields := r.pf.Schema().Fields()
	arrowFields := make([]arrow.Field, 0, len(fields))

	for i, field := range fields {
		if !field.Leaf() || field.Repeated() {
			return fmt.Errorf("%w: column %q is not a flat column", ErrUnsupportedSchema, field.Name())
		}

		col := column{name: field.Name(), leaf: i, kind: field.Type().Kind()}
		var dt arrow.DataType
		switch col.kind {
		case parquet.Boolean:
			col.typ, dt = types.ValueTypeBool, arrow.FixedWidthTypes.Boolean
		case parquet.Int32:
			col.typ, dt = types.ValueTypeInt, arrow.PrimitiveTypes.Int32
		case parquet.Int64:
			col.typ, dt = types.ValueTypeInt, arrow.PrimitiveTypes.Int64
		case parquet.Float:
			col.typ, dt = types.ValueTypeFloat, arrow.PrimitiveTypes.Float32
		case parquet.Double:
			col.typ, dt = types.ValueTypeFloat, arrow.PrimitiveTypes.Float64
		case parquet.ByteArray, parquet.FixedLenByteArray:
			if lt := field.Type().LogicalType(); lt != nil && lt.UTF8 != nil {
				col.typ, dt = types.ValueTypeStr, arrow.BinaryTypes.String
			} else {
				col.typ, dt = types.ValueTypeByteArray, arrow.BinaryTypes.Binary
			}
		default:
			return fmt.Errorf("%w: column %q has unsupported physical type %s", ErrUnsupportedSchema, field.Name(), col.kind)
		}

		r.columns = append(r.columns, col)
		arrowFields = append(arrowFields, arrow.Field{Name: col.name, Type: dt, Nullable: field.Optional()})
	}
	r.schema = arrow.NewSchema(arrowFields, nil)

	rowGroups := r.pf.RowGroups()
	r.pages = make([][]pageIndex, len(rowGroups))
	for i, rg := range rowGroups {
		chunks := rg.ColumnChunks()
		r.pages[i] = make([]pageIndex, len(chunks))
		for j, chunk := range chunks {
			// A missing page index only disables page pruning.
			ci, err := chunk.ColumnIndex()
			if err != nil {
				continue
			}
			oi, err := chunk.OffsetIndex()
			if err != nil {
				continue
			}
			r.pages[i][j] = pageIndex{column: ci, offset: oi}
		}
	}

	r.stats = r.collectStatistics()
	return nil
}

// Location returns the path the relation was opened from.
func (r *Relation) Location() string { return r.location }

// Schema returns the Arrow schema of the relation.
func (r *Relation) Schema() *arrow.Schema { return r.schema }

// Statistics returns the row group and column statistics read from the
// file footer.
func (r *Relation) Statistics() Statistics { return r.stats }

// NumRowGroups returns the number of row groups in the file.
func (r *Relation) NumRowGroups() int { return len(r.pf.RowGroups()) }

// Close closes the underlying file.
func (r *Relation) Close() error {
	return r.file.Close()
}

func (r *Relation) columnByName(name string) (column, bool) {
	for _, c := range r.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

// literal converts a Parquet value of column c into a literal.
func (c column) literal(v parquet.Value) types.Literal {
	if v.IsNull() {
		return types.Literal{}
	}
	switch c.kind {
	case parquet.Boolean:
		return types.NewLiteral(v.Boolean())
	case parquet.Int32:
		return types.NewLiteral(v.Int32())
	case parquet.Int64:
		return types.NewLiteral(v.Int64())
	case parquet.Float:
		return types.NewLiteral(v.Float())
	case parquet.Double:
		return types.NewLiteral(v.Double())
	default:
		if c.typ == types.ValueTypeStr {
			return types.NewLiteral(string(v.ByteArray()))
		}
		return types.NewLiteral(v.ByteArray())
	}
}

// syncReaderAt serializes reads of a file handle. Some afero file
// implementations emulate ReadAt with a seek followed by a read.
type syncReaderAt struct {
	mu sync.Mutex
	r  io.ReaderAt
}

func (s *syncReaderAt) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ReadAt(p, off)
}
