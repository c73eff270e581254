package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/grafana/planprobe/pkg/probe"
)

func parseFlags(t *testing.T, args ...string) *globalFlags {
	t.Helper()
	app := kingpin.New("planprobe", "")
	g := registerGlobalFlags(app)
	_, err := app.Parse(args)
	require.NoError(t, err)
	return g
}

func TestGlobalFlags_Config(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - name: runs
    path: /data/runs.parquet
query: SELECT id FROM runs
options:
  execution.parquet.pushdown_filters: false
  reorder_filters: true
preview:
  max_rows: 3
query_timeout: 1m
`), 0o644))

	t.Run("file only", func(t *testing.T) {
		cfg, err := parseFlags(t, "--config.file="+path).config()
		require.NoError(t, err)
		require.Equal(t, "SELECT id FROM runs", cfg.Query)
		require.Equal(t, time.Minute, cfg.QueryTimeout)
		require.Equal(t, probe.PreviewConfig{Column: "json_payload", MaxRows: 3, MaxValueLength: 100}, cfg.Preview)
	})

	t.Run("flags override file", func(t *testing.T) {
		cfg, err := parseFlags(t,
			"--config.file="+path,
			"--table=runs=/other/runs.parquet",
			"--table=extra=/data/extra.parquet",
			"--set=pushdown_filters=true",
			"--query.file=/queries/q.sql",
			"--preview.max-rows=0",
			"--preview.column=id",
			"--query.timeout=5s",
		).config()
		require.NoError(t, err)
		require.Equal(t, []probe.TableConfig{
			{Name: "runs", Path: "/other/runs.parquet"},
			{Name: "extra", Path: "/data/extra.parquet"},
		}, cfg.Tables)
		require.Equal(t, map[string]any{
			"execution.parquet.pushdown_filters": true,
			"reorder_filters":                    true,
		}, cfg.Options)
		require.Empty(t, cfg.Query, "a query file replaces the configured query")
		require.Equal(t, "/queries/q.sql", cfg.QueryFile)
		require.Equal(t, probe.PreviewConfig{Column: "id", MaxRows: 0, MaxValueLength: 100}, cfg.Preview)
		require.Equal(t, 5*time.Second, cfg.QueryTimeout)
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := parseFlags(t, "--config.file="+path, "--set=execution.nonexistent.option=true").config()
		var cfgErr *probe.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		require.Equal(t, probe.UnknownOption, cfgErr.ErrKind)
	})

	t.Run("no tables", func(t *testing.T) {
		_, err := parseFlags(t, "--query=SELECT 1").config()
		require.ErrorContains(t, err, "at least one table is required")
	})
}

func TestRenderReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	renderReport(&buf, &probe.Report{
		QueryID:       "6a1d",
		Query:         "SELECT json_payload FROM runs",
		Explain:       []probe.ExplainRecord{{Stage: "logical_plan", Text: "TableScan table=runs"}},
		Elapsed:       1500 * time.Microsecond,
		TotalRows:     12345,
		PreviewColumn: "json_payload",
		Preview:       []probe.PreviewRow{{Index: 0, Text: "{}"}, {Index: 1, Text: "NULL"}},
		Logical:       "L",
		Optimized:     "O",
		Physical:      "P",
	}, 100)

	out := buf.String()
	require.Contains(t, out, "Query:\nSELECT json_payload FROM runs\n")
	require.Contains(t, out, "logical_plan: TableScan table=runs\n")
	require.Contains(t, out, "Query executed in: 1.500 ms\n")
	require.Contains(t, out, "Total rows returned: 12,345\n")
	require.Contains(t, out, "First 2 rows (json_payload truncated to 100 chars):\n")
	require.Contains(t, out, "Row 1: {}\nRow 2: NULL\n")
	require.Contains(t, out, "Logical Plan:\nL\n\nOptimized Logical Plan:\nO\n\nPhysical Plan:\nP\n")
}

func TestWriteErr(t *testing.T) {
	color.NoColor = true

	_, queryErr := (&probe.Config{}).LoadQuery()
	require.Error(t, queryErr)
	_, setErr := parseFlags(t, "--set=batch_size=many").config()
	require.Error(t, setErr)

	for _, tt := range []struct {
		err      error
		expected string
	}{
		{err: failed("query", queryErr), expected: "query failed: " + queryErr.Error() + "\n"},
		{err: failed("schema", errors.New("no tables registered")), expected: "schema failed: no tables registered\n"},
		{err: setErr, expected: `config failed (kind=TypeMismatch identifier="batch_size"): ` + setErr.Error() + "\n"},
		{err: errors.New("unknown flag --nope"), expected: "invalid arguments: unknown flag --nope\n"},
	} {
		var buf bytes.Buffer
		writeErr(&buf, tt.err)
		require.Equal(t, tt.expected, buf.String())
	}
}
