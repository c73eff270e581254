package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/grafana/planprobe/pkg/util/arrowtest"
)

// spans records every span ended by the package tracer.
var spans = tracetest.NewSpanRecorder()

func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	goleak.VerifyTestMain(m)
}

func endedSpans(name string) []sdktrace.ReadOnlySpan {
	var res []sdktrace.ReadOnlySpan
	for _, s := range spans.Ended() {
		if s.Name() == name {
			res = append(res, s)
		}
	}
	return res
}

var peopleSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "age", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "valid", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
}, nil)

// bufferedPipeline returns its records in order. Ownership of each record
// moves to the caller of Read; records never read are released on Close.
type bufferedPipeline struct {
	records []arrow.Record
	closed  bool
}

func newArrowtestPipeline(alloc memory.Allocator, schema *arrow.Schema, batches ...arrowtest.Rows) *bufferedPipeline {
	p := &bufferedPipeline{}
	for _, rows := range batches {
		p.records = append(p.records, rows.Record(alloc, schema))
	}
	return p
}

func (p *bufferedPipeline) Read(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.records) == 0 {
		return nil, EOF
	}
	rec := p.records[0]
	p.records = p.records[1:]
	return rec, nil
}

func (p *bufferedPipeline) Close() {
	for _, rec := range p.records {
		rec.Release()
	}
	p.records = nil
	p.closed = true
}

func collectRows(t *testing.T, p Pipeline) arrowtest.Rows {
	t.Helper()
	records, err := Collect(t.Context(), p)
	require.NoError(t, err)
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	rows, err := arrowtest.TableRows(records)
	require.NoError(t, err)
	return rows
}

func TestGenericPipeline(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	input := newArrowtestPipeline(alloc, peopleSchema,
		arrowtest.Rows{{"name": "Alice", "age": int64(30)}},
		arrowtest.Rows{{"name": "Bob", "age": int64(25)}},
	)
	p := newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		return inputs[0].Read(ctx)
	}, input)

	rows := collectRows(t, p)
	require.Equal(t, arrowtest.Rows{
		{"name": "Alice", "age": int64(30)},
		{"name": "Bob", "age": int64(25)},
	}, rows)

	p.Close()
	require.True(t, input.closed, "closing a pipeline must close its inputs")
}

func TestErrorPipeline(t *testing.T) {
	cause := errors.New("boom")
	ctx, span := tracer.Start(t.Context(), "TestErrorPipeline")
	_, err := errorPipeline(ctx, cause).Read(t.Context())
	span.End()
	require.ErrorIs(t, err, cause)

	ended := endedSpans("TestErrorPipeline")
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, "boom", ended[0].Status().Description)

	_, err = emptyPipeline().Read(t.Context())
	require.ErrorIs(t, err, EOF)
}

func TestPrefetchWrapper(t *testing.T) {
	t.Run("reads all records", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		defer alloc.AssertSize(t, 0)

		input := newArrowtestPipeline(alloc, peopleSchema,
			arrowtest.Rows{{"name": "Alice"}},
			arrowtest.Rows{{"name": "Bob"}},
			arrowtest.Rows{{"name": "Charlie"}},
		)
		p := newPrefetchingPipeline(input)
		defer p.Close()

		rows := collectRows(t, p)
		require.Len(t, rows, 3)
	})

	t.Run("close before read", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		defer alloc.AssertSize(t, 0)

		input := newArrowtestPipeline(alloc, peopleSchema, arrowtest.Rows{{"name": "Alice"}})
		p := newPrefetchingPipeline(input)
		p.Close()
		require.True(t, input.closed)
	})

	t.Run("close with pending batch", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		defer alloc.AssertSize(t, 0)

		input := newArrowtestPipeline(alloc, peopleSchema,
			arrowtest.Rows{{"name": "Alice"}},
			arrowtest.Rows{{"name": "Bob"}},
			arrowtest.Rows{{"name": "Charlie"}},
		)
		p := newPrefetchingPipeline(input)

		rec, err := p.Read(t.Context())
		require.NoError(t, err)
		rec.Release()

		// The goroutine is now blocked sending the second batch. Closing
		// must stop it and release what it holds.
		p.Close()
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		blocked := newGenericPipeline(func(ctx context.Context, _ []Pipeline) (arrow.Record, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		p := newPrefetchingPipeline(blocked)
		defer p.Close()

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := p.Read(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestMeteredPipeline(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	input := newArrowtestPipeline(alloc, peopleSchema,
		arrowtest.Rows{{"name": "Alice"}, {"name": "Bob"}},
		arrowtest.Rows{{"name": "Charlie"}},
	)
	metrics := newOperatorMetrics()
	p := meterPipeline(metrics, input)
	defer p.Close()

	rows := collectRows(t, p)
	require.Len(t, rows, 3)
	require.Equal(t, int64(3), metrics.Get(MetricOutputRows))
	require.Equal(t, int64(2), metrics.Get(MetricOutputBatches))
	require.GreaterOrEqual(t, metrics.Get(MetricElapsed), int64(0))

	values := metrics.Values()
	require.Equal(t, MetricOutputRows, values[0].Name)
	require.Equal(t, MetricElapsed, values[len(values)-1].Name)

	require.Same(t, input, meterPipeline(nil, input), "nil metrics must not wrap")
}

func TestTracedPipeline(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	input := newArrowtestPipeline(alloc, peopleSchema, arrowtest.Rows{{"name": "Alice"}})
	p := tracePipeline("Buffered", input)
	rows := collectRows(t, p)
	p.Close()
	require.Len(t, rows, 1)
	require.True(t, input.closed)

	reads := endedSpans("Buffered.Read")
	require.Len(t, reads, 2, "one span per record and one for EOF")
	for _, s := range reads {
		require.Equal(t, codes.Ok, s.Status().Code)
	}

	failing := tracePipeline("Failing", errorPipeline(t.Context(), errors.New("boom")))
	_, err := failing.Read(t.Context())
	require.Error(t, err)
	reads = endedSpans("Failing.Read")
	require.Len(t, reads, 1)
	require.Equal(t, codes.Error, reads[0].Status().Code)
	require.Equal(t, "failed to execute pipeline: boom", reads[0].Status().Description)
}

func TestLazyPipeline(t *testing.T) {
	built := 0
	p := newLazyPipeline(func(_ context.Context, _ []Pipeline) Pipeline {
		built++
		return emptyPipeline()
	}, nil)

	p.Close()
	require.Zero(t, built, "closing an unread lazy pipeline must not build it")

	for range 3 {
		_, err := p.Read(t.Context())
		require.ErrorIs(t, err, EOF)
	}
	require.Equal(t, 1, built)
	p.Close()
}
