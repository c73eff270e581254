package executor

import (
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/grafana/planprobe/pkg/engine/internal/expr"
	"github.com/grafana/planprobe/pkg/engine/internal/types"
	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/planner/logical"
	"github.com/grafana/planprobe/pkg/engine/planner/physical"
	"github.com/grafana/planprobe/pkg/engine/source"
	"github.com/grafana/planprobe/pkg/util/arrowtest"
	"github.com/grafana/planprobe/pkg/util/parquettest"
)

type mapCatalog map[string]*source.Relation

func (c mapCatalog) Relation(table string) (*source.Relation, error) {
	rel, ok := c[table]
	if !ok {
		return nil, fmt.Errorf("table %q not found", table)
	}
	return rel, nil
}

func openRuns(t *testing.T, n, rowGroupSize int) mapCatalog {
	t.Helper()
	fs := afero.NewMemMapFs()
	parquettest.WriteFile(t, fs, "/data/runs.parquet", parquettest.Split(parquettest.Runs(n), rowGroupSize))

	rel, err := source.Open(fs, "/data/runs.parquet")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rel.Close()) })
	return mapCatalog{"runs": rel}
}

func planQuery(t *testing.T, catalog mapCatalog, overrides map[string]any, build func(*logical.Builder) *logical.Builder) *physical.Plan {
	t.Helper()
	rel := catalog["runs"]
	lp, err := build(logical.NewBuilder("runs", rel.Location(), rel.Schema())).ToPlan()
	require.NoError(t, err)

	opts, err := options.New(overrides)
	require.NoError(t, err)
	planner := physical.NewPlanner(opts)
	plan, err := planner.Build(logical.Optimize(lp))
	require.NoError(t, err)
	plan, err = planner.Optimize(plan)
	require.NoError(t, err)
	return plan
}

func payloadOf(id string) func(*logical.Builder) *logical.Builder {
	return func(b *logical.Builder) *logical.Builder {
		return b.
			Select(expr.NewBinary(types.BinOpKindEq, expr.NewColumn("id"), expr.NewLiteral(id))).
			Project(logical.NamedExpr{Expr: expr.NewColumn("json_payload"), Name: "json_payload"})
	}
}

func TestRun_OptionCombinations(t *testing.T) {
	catalog := openRuns(t, 100, 10)

	expected := arrowtest.Rows{{"json_payload": []byte(`{"n":42}`)}}
	for _, pruning := range []bool{false, true} {
		for _, pageIndex := range []bool{false, true} {
			for _, pushdown := range []bool{false, true} {
				for _, reorder := range []bool{false, true} {
					name := fmt.Sprintf("pruning=%v/page_index=%v/pushdown=%v/reorder=%v", pruning, pageIndex, pushdown, reorder)
					t.Run(name, func(t *testing.T) {
						alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
						defer alloc.AssertSize(t, 0)

						plan := planQuery(t, catalog, map[string]any{
							"pruning":           pruning,
							"enable_page_index": pageIndex,
							"pushdown_filters":  pushdown,
							"reorder_filters":   reorder,
							"batch_size":        4,
						}, payloadOf("run-0042"))

						pipeline := Run(t.Context(), Config{Catalog: catalog, Allocator: alloc}, plan, nil)
						defer pipeline.Close()
						require.Equal(t, expected, collectRows(t, pipeline))
					})
				}
			}
		}
	}
}

func TestRun_ScanMetrics(t *testing.T) {
	catalog := openRuns(t, 100, 10)

	for _, tt := range []struct {
		name                  string
		overrides             map[string]any
		rowGroupsPruned       int64
		rowsScanned           int64
		rowsPrunedByPredicate int64
	}{
		{
			name:            "no pruning scans everything",
			overrides:       map[string]any{"pruning": false},
			rowGroupsPruned: 0,
			rowsScanned:     100,
		},
		{
			name:            "row group pruning",
			overrides:       map[string]any{"pruning": true, "enable_page_index": false},
			rowGroupsPruned: 9,
			rowsScanned:     10,
		},
		{
			name:                  "pushdown filters in the scan",
			overrides:             map[string]any{"pruning": true, "enable_page_index": false, "pushdown_filters": true},
			rowGroupsPruned:       9,
			rowsScanned:           10,
			rowsPrunedByPredicate: 9,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
			defer alloc.AssertSize(t, 0)

			plan := planQuery(t, catalog, tt.overrides, payloadOf("run-0042"))
			metrics := NewMetricsSet()
			pipeline := Run(t.Context(), Config{Catalog: catalog, Allocator: alloc, Metrics: metrics}, plan, nil)
			defer pipeline.Close()
			require.Len(t, collectRows(t, pipeline), 1)

			var scan *physical.ParquetScan
			for _, n := range plan.Nodes() {
				if s, ok := n.(*physical.ParquetScan); ok {
					scan = s
				}
			}
			require.NotNil(t, scan)
			m, ok := metrics.Lookup(scan.ID())
			require.True(t, ok)
			require.Equal(t, int64(10), m.Get(MetricRowGroupsTotal))
			require.Equal(t, tt.rowGroupsPruned, m.Get(MetricRowGroupsPruned))
			require.Equal(t, tt.rowsScanned, m.Get(MetricRowsScanned))
			require.Equal(t, tt.rowsPrunedByPredicate, m.Get(MetricRowsPrunedByPred))

			root, err := plan.Root()
			require.NoError(t, err)
			rootMetrics, ok := metrics.Lookup(root.ID())
			require.True(t, ok)
			require.Equal(t, int64(1), rootMetrics.Get(MetricOutputRows))
		})
	}
}

func TestRun_LimitAndPrefetch(t *testing.T) {
	catalog := openRuns(t, 50, 10)

	for _, pushdown := range []bool{false, true} {
		t.Run(fmt.Sprintf("pushdown=%v", pushdown), func(t *testing.T) {
			alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
			defer alloc.AssertSize(t, 0)

			plan := planQuery(t, catalog, map[string]any{"pushdown_filters": pushdown, "batch_size": 3}, func(b *logical.Builder) *logical.Builder {
				return b.
					Select(expr.NewBinary(types.BinOpKindEq, expr.NewColumn("status"), expr.NewLiteral("failed"))).
					Project(logical.NamedExpr{Expr: expr.NewColumn("id"), Name: "id"}).
					Limit(2, 3)
			})

			pipeline := Run(t.Context(), Config{Catalog: catalog, Allocator: alloc, Prefetch: true}, plan, nil)
			defer pipeline.Close()
			require.Equal(t, arrowtest.Rows{
				{"id": "run-0005"},
				{"id": "run-0007"},
				{"id": "run-0009"},
			}, collectRows(t, pipeline))
		})
	}
}

func TestRun_CloseWithoutReading(t *testing.T) {
	catalog := openRuns(t, 20, 10)
	plan := planQuery(t, catalog, nil, payloadOf("run-0001"))

	pipeline := Run(t.Context(), Config{Catalog: catalog, Prefetch: true}, plan, nil)
	pipeline.Close()
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(t.Context(), Config{Catalog: mapCatalog{}}, nil, nil).Read(t.Context())
	require.ErrorContains(t, err, "plan is nil")

	catalog := openRuns(t, 10, 10)
	plan := planQuery(t, catalog, nil, payloadOf("run-0001"))

	pipeline := Run(t.Context(), Config{Catalog: mapCatalog{}}, plan, nil)
	defer pipeline.Close()
	_, err = pipeline.Read(t.Context())
	require.ErrorContains(t, err, `table "runs" not found`)

	var failed int
	for _, s := range endedSpans("Context.executeParquetScan") {
		if s.Status().Code == codes.Error {
			require.Equal(t, `table "runs" not found`, s.Status().Description)
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestRun_Spans(t *testing.T) {
	catalog := openRuns(t, 20, 10)
	plan := planQuery(t, catalog, map[string]any{"pushdown_filters": false}, payloadOf("run-0001"))

	before := len(endedSpans("ParquetScan.Read"))
	pipeline := Run(t.Context(), Config{Catalog: catalog}, plan, nil)
	require.Len(t, collectRows(t, pipeline), 1)
	pipeline.Close()

	require.Greater(t, len(endedSpans("ParquetScan.Read")), before)
	require.NotEmpty(t, endedSpans("Filter.Read"))
	require.NotEmpty(t, endedSpans("Projection.Read"))
	require.NotEmpty(t, endedSpans("Context.executeFilter"))
}
