package engine

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/source"
	"github.com/grafana/planprobe/pkg/engine/sql"
	"github.com/grafana/planprobe/pkg/util/arrowtest"
	"github.com/grafana/planprobe/pkg/util/parquettest"
)

type testEngine struct {
	*Engine
	reg   *prometheus.Registry
	alloc *memory.CheckedAllocator
}

func newTestEngine(t *testing.T, overrides map[string]any) *testEngine {
	t.Helper()

	memFS := afero.NewMemMapFs()
	parquettest.WriteFile(t, memFS, "/data/runs.parquet", parquettest.Split(parquettest.Runs(100), 10))
	require.NoError(t, afero.WriteFile(memFS, "/data/notes.txt", []byte("not parquet"), 0o644))

	opts, err := options.New(overrides)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	e, err := New(Params{Registerer: reg, Options: opts, FS: memFS, Allocator: alloc, Prefetch: true})
	require.NoError(t, err)
	require.NoError(t, e.RegisterParquet(t.Context(), "runs", "file:///data/runs.parquet"))

	t.Cleanup(func() {
		require.NoError(t, e.Close())
		alloc.AssertSize(t, 0)
	})
	return &testEngine{Engine: e, reg: reg, alloc: alloc}
}

func rows(t *testing.T, res *Result) arrowtest.Rows {
	t.Helper()
	defer res.Release()
	rows, err := arrowtest.TableRows(res.Records)
	require.NoError(t, err)
	return rows
}

func TestEngine_RegisterParquet(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.RegisterParquet(t.Context(), "runs", "/data/notes.txt")
	require.ErrorIs(t, err, ErrTableExists)
	rel, err := e.Relation("runs")
	require.NoError(t, err)
	require.Equal(t, "/data/runs.parquet", rel.Location(), "the first binding must stay intact")

	err = e.RegisterParquet(t.Context(), "missing", "/data/missing.parquet")
	require.ErrorIs(t, err, fs.ErrNotExist)

	err = e.RegisterParquet(t.Context(), "notes", "/data/notes.txt")
	require.ErrorIs(t, err, source.ErrInvalidFile)

	require.Equal(t, []string{"runs"}, e.Tables())

	_, err = e.Relation("notes")
	require.ErrorIs(t, err, sql.ErrTableNotFound)
}

func TestEngine_SQL(t *testing.T) {
	for _, pushdown := range []bool{false, true} {
		e := newTestEngine(t, map[string]any{"pushdown_filters": pushdown, "batch_size": 7})

		res, err := e.SQL(t.Context(), "SELECT id, duration_ms FROM RUNS WHERE status = 'failed' AND duration_ms > 900 LIMIT 10")
		require.NoError(t, err)
		require.Equal(t, []string{"id", "duration_ms"}, res.Schema.FieldNames())
		require.Equal(t, arrowtest.Rows{
			{"id": "run-0091", "duration_ms": int64(910)},
			{"id": "run-0093", "duration_ms": int64(930)},
			{"id": "run-0095", "duration_ms": int64(950)},
			{"id": "run-0097", "duration_ms": int64(970)},
			{"id": "run-0099", "duration_ms": int64(990)},
		}, rows(t, res))
	}
}

func TestEngine_SQL_Errors(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.SQL(t.Context(), "SELECT nope FROM runs")
	var sqlErr *sql.Error
	require.ErrorAs(t, err, &sqlErr)
	require.ErrorIs(t, err, sql.ErrColumnNotFound)
	require.Equal(t, "nope", sqlErr.Identifier)

	_, err = e.SQL(t.Context(), "SELECT id FROM other")
	require.ErrorIs(t, err, sql.ErrTableNotFound)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = e.SQL(ctx, "SELECT id FROM runs")
	require.ErrorIs(t, err, ErrExecutionFailed)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.queries.WithLabelValues(statusFailure)))
}

func TestEngine_Explain(t *testing.T) {
	const query = "SELECT json_payload FROM runs WHERE id = 'run-0042'"

	for _, pushdown := range []bool{false, true} {
		e := newTestEngine(t, map[string]any{"pushdown_filters": pushdown})

		stmt, err := e.Parse(t.Context(), query)
		require.NoError(t, err)
		optimized, err := e.Optimize(t.Context(), stmt.Plan)
		require.NoError(t, err)
		physicalPlan, err := e.CreatePhysicalPlan(t.Context(), optimized)
		require.NoError(t, err)

		res, err := e.SQL(t.Context(), "EXPLAIN "+query)
		require.NoError(t, err)
		require.Equal(t, arrowtest.Rows{
			{"plan_type": PlanTypeLogical, "plan": e.FormatLogical(optimized)},
			{"plan_type": PlanTypePhysical, "plan": e.FormatPhysical(physicalPlan)},
		}, rows(t, res))

		res, err = e.SQL(t.Context(), "EXPLAIN ANALYZE "+query)
		require.NoError(t, err)
		analyzed := rows(t, res)
		require.Len(t, analyzed, 4)

		var planTypes []any
		for _, row := range analyzed {
			planTypes = append(planTypes, row["plan_type"])
		}
		require.Equal(t, []any{PlanTypeLogical, PlanTypePhysical, PlanTypePhysicalWithMetrics, PlanTypeExecutionSummary}, planTypes)
		require.Equal(t, e.FormatPhysical(physicalPlan), analyzed[1]["plan"])

		withMetrics := analyzed[2]["plan"].(string)
		require.Contains(t, withMetrics, "ParquetScan location=/data/runs.parquet")
		require.Contains(t, withMetrics, "metrics=(output_rows=1,")
		require.Contains(t, withMetrics, "row_groups_pruned=9")
		require.Equal(t, strings.Contains(withMetrics, "Filter"), !pushdown)
		require.True(t, strings.HasPrefix(analyzed[3]["plan"].(string), "output_rows=1 output_batches=1 elapsed="))
	}
}

func TestEngine_ExplainFormat(t *testing.T) {
	e := newTestEngine(t, map[string]any{"explain_format": "tree"})

	res, err := e.SQL(t.Context(), "EXPLAIN SELECT id FROM runs WHERE status = 'ok'")
	require.NoError(t, err)
	for _, row := range rows(t, res) {
		require.Contains(t, row["plan"], "└── ")
	}
}

func TestEngine_Metrics(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.SQL(t.Context(), "SELECT id FROM runs LIMIT 3")
	require.NoError(t, err)
	require.Equal(t, int64(3), res.NumRows())
	res.Release()

	require.Equal(t, 1.0, testutil.ToFloat64(e.metrics.queries.WithLabelValues(statusSuccess)))
	require.Equal(t, 3.0, testutil.ToFloat64(e.metrics.rows))

	count, err := testutil.GatherAndCount(e.reg, "planprobe_engine_execution_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestEngine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	e := newTestEngine(t, nil)

	spansOf := func(query string) map[string]sdktrace.ReadOnlySpan {
		ctx, parent := tp.Tracer("test").Start(t.Context(), "query")
		res, err := e.SQL(ctx, query)
		if err == nil {
			res.Release()
		}
		parent.End()

		spans := make(map[string]sdktrace.ReadOnlySpan)
		for _, s := range recorder.Ended() {
			if s.SpanContext().TraceID() == parent.SpanContext().TraceID() {
				spans[s.Name()] = s
			}
		}
		return spans
	}

	spans := spansOf("SELECT id FROM runs WHERE status = 'failed' LIMIT 3")
	for _, name := range []string{"Engine.Parse", "Engine.Optimize", "Engine.CreatePhysicalPlan", "Engine.Collect", "ParquetScan.Read", "Limit.Read"} {
		require.Contains(t, spans, name)
	}
	collect := spans["Engine.Collect"]
	require.Equal(t, codes.Ok, collect.Status().Code)
	var reads int
	for _, s := range recorder.Ended() {
		if s.Parent().SpanID() == collect.SpanContext().SpanID() && strings.HasSuffix(s.Name(), ".Read") {
			reads++
		}
	}
	require.Positive(t, reads, "pipeline reads must be children of the collect span")

	spans = spansOf("SELECT nope FROM runs")
	require.Equal(t, codes.Error, spans["Engine.Parse"].Status().Code)
	require.NotContains(t, spans, "Engine.Collect")

	spans = spansOf("EXPLAIN ANALYZE SELECT id FROM runs")
	require.Contains(t, spans, "Engine.Explain")
	require.Contains(t, spans, "Engine.Collect")
}
