package source

import (
	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
)

// Range is a half-open range [Start, End) of row indices within a row group.
type Range struct {
	Start, End int64
}

func (r Range) Len() int64 { return r.End - r.Start }

// RowGroupScan selects the rows of one row group that need to be read.
type RowGroupScan struct {
	Index  int
	Ranges []Range
}

// NumRows returns the number of rows selected in the row group.
func (s RowGroupScan) NumRows() int64 {
	var n int64
	for _, r := range s.Ranges {
		n += r.Len()
	}
	return n
}

// ScanPlan is the result of pruning a relation against a set of
// predicates.
type ScanPlan struct {
	RowGroups []RowGroupScan

	RowGroupsTotal  int
	RowGroupsPruned int
	PagesTotal      int
	PagesPruned     int
	RowsTotal       int64
	RowsSelected    int64
}

// PruneOptions controls [Relation.Prune].
type PruneOptions struct {
	// Predicates are combined with AND. Only predicates comparing a column
	// to literals contribute to pruning; others are ignored.
	Predicates []expr.Expr
	// RowGroups enables pruning of row groups with column chunk statistics.
	RowGroups bool
	// Pages enables pruning of pages with the column and offset index.
	Pages bool
}

// Prune computes the rows that need to be read to evaluate a scan with the
// given predicates. Pruning is conservative: it never drops a row that
// could satisfy the predicates.
func (r *Relation) Prune(opts PruneOptions) ScanPlan {
	rowGroups := r.pf.RowGroups()
	plan := ScanPlan{RowGroupsTotal: len(rowGroups)}
	pred := expr.Conjunction(opts.Predicates)

	for i, rg := range rowGroups {
		numRows := rg.NumRows()
		plan.RowsTotal += numRows

		if pred != nil && opts.RowGroups && !mayMatch(pred, r.rowGroupBounds(i)) {
			plan.RowGroupsPruned++
			continue
		}

		ranges := []Range{{Start: 0, End: numRows}}
		if pred != nil && opts.Pages {
			var total, pruned int
			ranges, total, pruned = r.prunePages(i, numRows, opts.Predicates)
			plan.PagesTotal += total
			plan.PagesPruned += pruned
		}
		if len(ranges) == 0 {
			plan.RowGroupsPruned++
			continue
		}

		scan := RowGroupScan{Index: i, Ranges: ranges}
		plan.RowsSelected += scan.NumRows()
		plan.RowGroups = append(plan.RowGroups, scan)
	}
	return plan
}

// prunePages selects the row ranges of row group rg whose pages may
// satisfy predicates. Predicates are grouped by the single column they
// reference; predicates over several columns do not restrict pages.
func (r *Relation) prunePages(rg int, numRows int64, predicates []expr.Expr) (ranges []Range, total, pruned int) {
	byColumn := map[string][]expr.Expr{}
	var order []string
	for _, p := range predicates {
		for _, conjunct := range expr.SplitConjunction(p) {
			cols := expr.Columns(conjunct)
			if len(cols) != 1 {
				continue
			}
			if _, ok := byColumn[cols[0]]; !ok {
				order = append(order, cols[0])
			}
			byColumn[cols[0]] = append(byColumn[cols[0]], conjunct)
		}
	}

	ranges = []Range{{Start: 0, End: numRows}}
	for _, name := range order {
		col, ok := r.columnByName(name)
		if !ok {
			continue
		}
		idx := r.pages[rg][col.leaf]
		if !idx.valid() {
			continue
		}

		pred := expr.Conjunction(byColumn[name])
		var kept []Range
		numPages := idx.column.NumPages()
		for page := range numPages {
			start := idx.offset.FirstRowIndex(page)
			end := numRows
			if page+1 < numPages {
				end = idx.offset.FirstRowIndex(page + 1)
			}

			b := bounds{allNull: idx.column.NullPage(page)}
			if !b.allNull {
				b.min, b.max, b.ok = col.literal(idx.column.MinValue(page)), col.literal(idx.column.MaxValue(page)), true
			}
			if mayMatch(pred, func(string) bounds { return b }) {
				kept = appendRange(kept, Range{Start: start, End: end})
			} else {
				pruned++
			}
		}
		total += numPages
		ranges = intersectRanges(ranges, kept)
	}
	return ranges, total, pruned
}

func (r *Relation) rowGroupBounds(rg int) boundsFunc {
	stats := r.stats.RowGroups[rg]
	return func(name string) bounds {
		cs, ok := stats.Column(name)
		if !ok || !cs.HasBounds || cs.Min.IsNull() || cs.Max.IsNull() {
			return bounds{}
		}
		return bounds{min: cs.Min, max: cs.Max, ok: true}
	}
}

type bounds struct {
	min, max types.Literal
	ok       bool
	// allNull is set when every value is NULL.
	allNull bool
}

type boundsFunc func(column string) bounds

// mayMatch reports whether a row within the given column bounds could
// satisfy e.
func mayMatch(e expr.Expr, lookup boundsFunc) bool {
	switch e := e.(type) {
	case *expr.Binary:
		switch e.Op {
		case types.BinOpKindAnd:
			return mayMatch(e.Left, lookup) && mayMatch(e.Right, lookup)
		case types.BinOpKindOr:
			return mayMatch(e.Left, lookup) || mayMatch(e.Right, lookup)
		}

		col, op, lit, ok := expr.ColumnComparison(e)
		if !ok {
			return true
		}
		b := lookup(col)
		if b.allNull {
			// Comparisons with NULL are never true.
			return false
		}
		return !b.ok || compareMayMatch(op, lit, b)

	case *expr.InList:
		c, ok := e.Expr.(*expr.Column)
		if !ok || e.Negated {
			return true
		}
		b := lookup(c.Name)
		if b.allNull {
			return false
		}
		if !b.ok {
			return true
		}
		for _, lit := range e.List {
			if compareMayMatch(types.BinOpKindEq, lit, b) {
				return true
			}
		}
		return false
	}
	return true
}

// compareMayMatch reports whether some value v with min <= v <= max could
// satisfy "v op lit".
//
// Writers may truncate byte array maxima to a prefix. A literal that starts
// with max is therefore not known to exceed the column's true maximum.
func compareMayMatch(op types.BinOpKind, lit types.Literal, b bounds) bool {
	cmpMin, ok := types.Compare(lit, b.min)
	if !ok {
		return true
	}
	cmpMax, ok := types.Compare(lit, b.max)
	if !ok {
		return true
	}
	belowMax := cmpMax <= 0 || types.HasPrefix(lit, b.max)

	switch op {
	case types.BinOpKindEq:
		return cmpMin >= 0 && belowMax
	case types.BinOpKindLt:
		return cmpMin > 0
	case types.BinOpKindLte:
		return cmpMin >= 0
	case types.BinOpKindGt:
		return cmpMax < 0 || types.HasPrefix(lit, b.max)
	case types.BinOpKindGte:
		return belowMax
	}
	return true
}

// appendRange appends r to sorted ranges, merging adjacent ranges.
func appendRange(ranges []Range, r Range) []Range {
	if n := len(ranges); n > 0 && ranges[n-1].End >= r.Start {
		ranges[n-1].End = max(ranges[n-1].End, r.End)
		return ranges
	}
	return append(ranges, r)
}

// intersectRanges intersects two sorted lists of disjoint ranges.
func intersectRanges(a, b []Range) []Range {
	var out []Range
	for i, j := 0, 0; i < len(a) && j < len(b); {
		start, end := max(a[i].Start, b[j].Start), min(a[i].End, b[j].End)
		if start < end {
			out = appendRange(out, Range{Start: start, End: end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return out
}
