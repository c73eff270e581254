package probe

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/grafana/planprobe/pkg/util/parquettest"
)

func defaultRunParams(query string) RunParams {
	return RunParams{
		Query:                 query,
		PreviewColumn:         "json_payload",
		PreviewMaxRows:        5,
		PreviewMaxValueLength: 100,
	}
}

func TestRun(t *testing.T) {
	runs := parquettest.Runs(7)
	for i := range runs {
		runs[i].JSONPayload = []byte(`{"payload":"` + strings.Repeat("ü", 150) + `"}`)
	}
	s := newTestSession(t, sessionOpts{
		options: map[string]any{"pushdown_filters": true, "reorder_filters": true},
		runs:    runs,
	})

	report, err := Run(t.Context(), s, defaultRunParams("SELECT json_payload FROM runs WHERE duration_ms >= 0"))
	require.NoError(t, err)

	_, err = uuid.Parse(report.QueryID)
	require.NoError(t, err)
	require.Equal(t, int64(7), report.TotalRows)
	require.Positive(t, report.Elapsed)
	require.Equal(t, "json_payload", report.PreviewColumn)

	require.Len(t, report.Preview, 5)
	for i, row := range report.Preview {
		require.Equal(t, i, row.Index)
		require.True(t, row.Truncated)
		require.Equal(t, 103, utf8.RuneCountInString(row.Text))
		require.True(t, strings.HasSuffix(row.Text, TruncationMarker))
	}

	require.Len(t, report.Explain, 4)
	require.Equal(t, report.Physical, report.Explain[1].Text)
	require.Equal(t, report.Optimized, report.Explain[0].Text)
	require.Contains(t, report.Logical, "TableScan table=runs")
	require.Contains(t, report.Physical, "predicate[0]=duration_ms >= 0")
}

func TestRun_Deterministic(t *testing.T) {
	s := newTestSession(t, sessionOpts{})
	params := defaultRunParams("SELECT id, json_payload FROM runs WHERE status = 'failed' LIMIT 4")

	first, err := Run(t.Context(), s, params)
	require.NoError(t, err)
	second, err := Run(t.Context(), s, params)
	require.NoError(t, err)

	require.NotEqual(t, first.QueryID, second.QueryID)
	require.Equal(t, first.TotalRows, second.TotalRows)
	require.Equal(t, first.Preview, second.Preview)
	require.Equal(t, first.Logical, second.Logical)
	require.Equal(t, first.Optimized, second.Optimized)
	require.Equal(t, first.Physical, second.Physical)
	require.Equal(t, first.Explain[0], second.Explain[0])
	require.Equal(t, first.Explain[1], second.Explain[1])
}

func TestRun_Errors(t *testing.T) {
	s := newTestSession(t, sessionOpts{})

	t.Run("parse", func(t *testing.T) {
		report, err := Run(t.Context(), s, defaultRunParams("SELECT nope FROM runs"))
		require.Nil(t, report)

		var perr Error
		require.ErrorAs(t, err, &perr)
		require.Equal(t, StageParse, perr.Stage())
		require.Equal(t, "nope", perr.Identifier())
	})

	t.Run("preview column", func(t *testing.T) {
		params := defaultRunParams("SELECT id FROM runs LIMIT 1")
		report, err := Run(t.Context(), s, params)
		require.Nil(t, report)

		var colErr *ColumnError
		require.ErrorAs(t, err, &colErr)
		require.Equal(t, "json_payload", colErr.Identifier())
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := Run(t.Context(), s, defaultRunParams(""))
		require.ErrorAs(t, err, new(*ParseError))
	})

	t.Run("negative preview rows", func(t *testing.T) {
		params := defaultRunParams(lookupQuery)
		params.PreviewMaxRows = -1
		report, err := Run(t.Context(), s, params)
		require.Nil(t, report)

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, StageConfig, cfgErr.Stage())
		require.Equal(t, "TypeMismatch", cfgErr.Kind())
		require.Equal(t, "preview.max_rows", cfgErr.Identifier())
	})
}
