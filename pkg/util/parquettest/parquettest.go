// Package parquettest writes Parquet fixtures for tests.
package parquettest

import (
	"fmt"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// Run is the row type of the "runs" fixture used across the engine tests.
type Run struct {
	ID          string `parquet:"id"`
	Status      string `parquet:"status"`
	Duration    int64  `parquet:"duration_ms"`
	JSONPayload []byte `parquet:"json_payload"`
}

// Runs returns n runs with sorted ids ("run-0000", "run-0001", ...), so
// that consecutive row groups cover disjoint id ranges. Even runs have
// status "ok", odd runs "failed"; run i takes i*10 milliseconds.
func Runs(n int) []Run {
	runs := make([]Run, n)
	for i := range runs {
		runs[i] = Run{
			ID:          fmt.Sprintf("run-%04d", i),
			Status:      []string{"ok", "failed"}[i%2],
			Duration:    int64(i * 10),
			JSONPayload: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		}
	}
	return runs
}

// WriteFile writes one row group per entry of groups to path on fs. Extra
// writer options, such as parquet.PageBufferSize, are passed through.
func WriteFile[T any](t testing.TB, fs afero.Fs, path string, groups [][]T, opts ...parquet.WriterOption) {
	t.Helper()

	f, err := fs.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := parquet.NewGenericWriter[T](f, opts...)
	for _, rows := range groups {
		_, err := w.Write(rows)
		require.NoError(t, err)
		// Flush ends the current row group.
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())
}

// Split splits rows into groups of at most size rows.
func Split[T any](rows []T, size int) [][]T {
	var groups [][]T
	for len(rows) > size {
		groups = append(groups, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		groups = append(groups, rows)
	}
	return groups
}
