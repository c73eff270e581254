package source

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
	"github.com/grafana/planprobe/pkg/util/arrowtest"
	"github.com/grafana/planprobe/pkg/util/parquettest"
)

var testRuns = parquettest.Runs

func openTestRelation(t *testing.T, groups [][]parquettest.Run, opts ...parquet.WriterOption) *Relation {
	t.Helper()
	fs := afero.NewMemMapFs()
	parquettest.WriteFile(t, fs, "/data/runs.parquet", groups, opts...)

	rel, err := Open(fs, "file:///data/runs.parquet")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rel.Close()) })
	return rel
}

func readAll(t *testing.T, rel *Relation, opts ReaderOptions) arrowtest.Rows {
	t.Helper()
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	rd, err := rel.NewReader(opts, alloc)
	require.NoError(t, err)
	defer rd.Close()

	var out arrowtest.Rows
	for {
		rec, err := rd.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, rec.NumRows(), int64(opts.BatchSize))
		rows, err := arrowtest.RecordRows(rec)
		require.NoError(t, err)
		out = append(out, rows...)
		rec.Release()
	}
	return out
}

func TestOpen(t *testing.T) {
	rel := openTestRelation(t, parquettest.Split(testRuns(30), 10))

	expected := []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "status", Type: arrow.BinaryTypes.String},
		{Name: "duration_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "json_payload", Type: arrow.BinaryTypes.Binary},
	}
	require.Equal(t, len(expected), rel.Schema().NumFields())
	for i, f := range expected {
		require.Equal(t, f.Name, rel.Schema().Field(i).Name)
		require.True(t, arrow.TypeEqual(f.Type, rel.Schema().Field(i).Type), "field %s", f.Name)
	}

	stats := rel.Statistics()
	require.Equal(t, int64(30), stats.NumRows)
	require.Len(t, stats.RowGroups, 3)
	require.Equal(t, 3, rel.NumRowGroups())
	require.Equal(t, "/data/runs.parquet", rel.Location())

	id, ok := stats.RowGroups[1].Column("id")
	require.True(t, ok)
	require.True(t, id.HasBounds)
	require.Equal(t, "run-0010", id.Min.Str())
	require.Equal(t, "run-0019", id.Max.Str())

	duration, ok := stats.RowGroups[2].Column("duration_ms")
	require.True(t, ok)
	require.Equal(t, int64(200), duration.Min.Int())
	require.Equal(t, int64(290), duration.Max.Int())
}

func TestOpen_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Open(fs, "/missing.parquet")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, afero.WriteFile(fs, "/garbage.parquet", []byte("definitely not parquet"), 0o644))
	_, err = Open(fs, "/garbage.parquet")
	require.ErrorIs(t, err, ErrInvalidFile)

	require.NoError(t, fs.MkdirAll("/dir", 0o755))
	_, err = Open(fs, "/dir")
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestOpen_NestedSchema(t *testing.T) {
	type nested struct {
		Tags []string `parquet:"tags,list"`
	}
	fs := afero.NewMemMapFs()
	parquettest.WriteFile(t, fs, "/nested.parquet", [][]nested{{{Tags: []string{"a"}}}})

	_, err := Open(fs, "/nested.parquet")
	require.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestReader(t *testing.T) {
	runs := testRuns(25)
	rel := openTestRelation(t, parquettest.Split(runs, 10))

	t.Run("all rows and columns", func(t *testing.T) {
		rows := readAll(t, rel, ReaderOptions{BatchSize: 4, Plan: rel.Prune(PruneOptions{})})
		require.Len(t, rows, 25)
		for i, row := range rows {
			require.Equal(t, runs[i].ID, row["id"])
			require.Equal(t, runs[i].Duration, row["duration_ms"])
			require.Equal(t, runs[i].JSONPayload, row["json_payload"])
		}
	})

	t.Run("projection", func(t *testing.T) {
		rows := readAll(t, rel, ReaderOptions{
			Columns:   []string{"json_payload", "id"},
			BatchSize: 100,
			Plan:      rel.Prune(PruneOptions{}),
		})
		require.Len(t, rows, 25)
		require.Equal(t, map[string]any{"id": "run-0003", "json_payload": []byte(`{"n":3}`)}, rows[3])
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := rel.NewReader(ReaderOptions{Columns: []string{"nope"}, BatchSize: 1}, memory.DefaultAllocator)
		require.Error(t, err)
	})

	t.Run("row ranges", func(t *testing.T) {
		plan := ScanPlan{RowGroups: []RowGroupScan{
			{Index: 0, Ranges: []Range{{Start: 2, End: 4}, {Start: 8, End: 10}}},
			{Index: 2, Ranges: []Range{{Start: 0, End: 1}}},
		}}
		rows := readAll(t, rel, ReaderOptions{Columns: []string{"id"}, BatchSize: 3, Plan: plan})

		var ids []any
		for _, row := range rows {
			ids = append(ids, row["id"])
		}
		require.Equal(t, []any{"run-0002", "run-0003", "run-0008", "run-0009", "run-0020"}, ids)
	})
}

func TestReader_ContextCanceled(t *testing.T) {
	rel := openTestRelation(t, [][]parquettest.Run{testRuns(5)})

	rd, err := rel.NewReader(ReaderOptions{BatchSize: 2, Plan: rel.Prune(PruneOptions{})}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer rd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rd.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrune_RowGroups(t *testing.T) {
	rel := openTestRelation(t, parquettest.Split(testRuns(30), 10))

	eq := func(col string, v any) expr.Expr {
		return expr.NewBinary(types.BinOpKindEq, expr.NewColumn(col), expr.NewLiteral(v))
	}

	tests := []struct {
		name       string
		predicates []expr.Expr
		wantGroups []int
	}{
		{
			name:       "no predicates",
			wantGroups: []int{0, 1, 2},
		},
		{
			name:       "equality on sorted column",
			predicates: []expr.Expr{eq("id", "run-0015")},
			wantGroups: []int{1},
		},
		{
			name:       "value outside of all bounds",
			predicates: []expr.Expr{eq("id", "zzz")},
			wantGroups: nil,
		},
		{
			name: "range",
			predicates: []expr.Expr{
				expr.NewBinary(types.BinOpKindGte, expr.NewColumn("duration_ms"), expr.NewLiteral(int64(150))),
			},
			wantGroups: []int{1, 2},
		},
		{
			name: "flipped comparison",
			predicates: []expr.Expr{
				expr.NewBinary(types.BinOpKindGt, expr.NewLiteral(int64(95)), expr.NewColumn("duration_ms")),
			},
			wantGroups: []int{0},
		},
		{
			name: "or of two groups",
			predicates: []expr.Expr{
				expr.NewBinary(types.BinOpKindOr, eq("id", "run-0001"), eq("id", "run-0025")),
			},
			wantGroups: []int{0, 2},
		},
		{
			name: "in list",
			predicates: []expr.Expr{
				&expr.InList{Expr: expr.NewColumn("id"), List: []types.Literal{types.NewLiteral("run-0012"), types.NewLiteral("nope")}},
			},
			wantGroups: []int{1},
		},
		{
			name: "unprunable predicate keeps everything",
			predicates: []expr.Expr{
				expr.NewBinary(types.BinOpKindLike, expr.NewColumn("id"), expr.NewLiteral("run-001%")),
			},
			wantGroups: []int{0, 1, 2},
		},
		{
			name:       "conjunction across groups prunes all",
			predicates: []expr.Expr{eq("id", "run-0001"), eq("id", "run-0025")},
			wantGroups: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := rel.Prune(PruneOptions{Predicates: tt.predicates, RowGroups: true})

			var groups []int
			for _, rg := range plan.RowGroups {
				groups = append(groups, rg.Index)
			}
			require.Equal(t, tt.wantGroups, groups)
			require.Equal(t, 3, plan.RowGroupsTotal)
			require.Equal(t, 3-len(tt.wantGroups), plan.RowGroupsPruned)
			require.Equal(t, int64(30), plan.RowsTotal)
			require.Equal(t, int64(10*len(tt.wantGroups)), plan.RowsSelected)
		})
	}

	t.Run("disabled", func(t *testing.T) {
		plan := rel.Prune(PruneOptions{Predicates: []expr.Expr{eq("id", "zzz")}})
		require.Len(t, plan.RowGroups, 3)
		require.Zero(t, plan.RowGroupsPruned)
	})
}

func TestPrune_Pages(t *testing.T) {
	runs := testRuns(400)
	rel := openTestRelation(t, [][]parquettest.Run{runs}, parquet.PageBufferSize(256))

	pred := expr.NewBinary(types.BinOpKindEq, expr.NewColumn("id"), expr.NewLiteral("run-0123"))
	plan := rel.Prune(PruneOptions{Predicates: []expr.Expr{pred}, RowGroups: true, Pages: true})

	require.Equal(t, 1, plan.RowGroupsTotal)
	require.Positive(t, plan.PagesTotal)
	require.LessOrEqual(t, plan.PagesPruned, plan.PagesTotal)
	require.LessOrEqual(t, plan.RowsSelected, plan.RowsTotal)

	// Whatever was pruned, the matching row must still be read.
	rows := readAll(t, rel, ReaderOptions{Columns: []string{"id"}, BatchSize: 64, Plan: plan})
	var found bool
	for _, row := range rows {
		if row["id"] == "run-0123" {
			found = true
		}
	}
	require.True(t, found)
	require.Len(t, rows, int(plan.RowsSelected))
}

func TestCompareMayMatch(t *testing.T) {
	b := bounds{min: types.NewLiteral("b"), max: types.NewLiteral("d"), ok: true}
	tests := []struct {
		op   types.BinOpKind
		lit  string
		want bool
	}{
		{types.BinOpKindEq, "a", false},
		{types.BinOpKindEq, "c", true},
		{types.BinOpKindEq, "e", false},
		// "dz" starts with the possibly truncated maximum "d".
		{types.BinOpKindEq, "dz", true},
		{types.BinOpKindLt, "b", false},
		{types.BinOpKindLte, "b", true},
		{types.BinOpKindGt, "d", true},
		{types.BinOpKindGt, "e", false},
		{types.BinOpKindGte, "e", false},
		{types.BinOpKindNeq, "c", true},
	}
	for _, tt := range tests {
		t.Run(tt.op.String()+" "+tt.lit, func(t *testing.T) {
			require.Equal(t, tt.want, compareMayMatch(tt.op, types.NewLiteral(tt.lit), b))
		})
	}
}

func TestMayMatch_NullPages(t *testing.T) {
	pred := expr.NewBinary(types.BinOpKindEq, expr.NewColumn("a"), expr.NewLiteral(1))
	require.False(t, mayMatch(pred, func(string) bounds { return bounds{allNull: true} }))
	require.True(t, mayMatch(pred, func(string) bounds { return bounds{} }))

	isNull := expr.NewUnary(types.UnaryOpKindIsNull, expr.NewColumn("a"))
	require.True(t, mayMatch(isNull, func(string) bounds { return bounds{allNull: true} }))
}

func TestRanges(t *testing.T) {
	var rs []Range
	rs = appendRange(rs, Range{0, 10})
	rs = appendRange(rs, Range{10, 20})
	rs = appendRange(rs, Range{30, 40})
	require.Equal(t, []Range{{0, 20}, {30, 40}}, rs)

	got := intersectRanges(rs, []Range{{5, 12}, {15, 35}})
	require.Equal(t, []Range{{5, 12}, {15, 20}, {30, 35}}, got)
	require.Empty(t, intersectRanges(rs, nil))
}
