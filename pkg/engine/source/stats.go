package source

import (
	"github.com/parquet-go/parquet-go"

	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// Statistics summarizes the footer metadata of a relation.
type Statistics struct {
	NumRows   int64
	RowGroups []RowGroupStatistics
}

// RowGroupStatistics holds the statistics of a single row group.
type RowGroupStatistics struct {
	NumRows int64
	Columns []ColumnStatistics
}

// ColumnStatistics holds the statistics of one column chunk.
type ColumnStatistics struct {
	Name      string
	NumValues int64

	// Min and Max are only meaningful when HasBounds is set. Byte array
	// maxima may be truncated by the writer.
	Min, Max  types.Literal
	HasBounds bool

	// NumPages is zero when the chunk has no page index.
	NumPages int
}

// Column returns the statistics of the named column in the row group.
func (s RowGroupStatistics) Column(name string) (ColumnStatistics, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnStatistics{}, false
}

func (r *Relation) collectStatistics() Statistics {
	rowGroups := r.pf.RowGroups()
	stats := Statistics{
		RowGroups: make([]RowGroupStatistics, 0, len(rowGroups)),
	}

	for i, rg := range rowGroups {
		rgStats := RowGroupStatistics{
			NumRows: rg.NumRows(),
			Columns: make([]ColumnStatistics, 0, len(r.columns)),
		}
		chunks := rg.ColumnChunks()

		for _, col := range r.columns {
			chunk := chunks[col.leaf]
			cs := ColumnStatistics{
				Name:      col.name,
				NumValues: chunk.NumValues(),
			}
			if fc, ok := chunk.(*parquet.FileColumnChunk); ok {
				if lo, hi, ok := fc.Bounds(); ok {
					cs.Min, cs.Max, cs.HasBounds = col.literal(lo), col.literal(hi), true
				}
			}
			if p := r.pages[i][col.leaf]; p.valid() {
				cs.NumPages = p.column.NumPages()
			}
			rgStats.Columns = append(rgStats.Columns, cs)
		}

		stats.NumRows += rgStats.NumRows
		stats.RowGroups = append(stats.RowGroups, rgStats)
	}
	return stats
}
