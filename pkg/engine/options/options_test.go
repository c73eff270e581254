package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	opts := Defaults()
	require.True(t, opts.Pruning())
	require.True(t, opts.PageIndex())
	require.False(t, opts.PushdownFilters())
	require.False(t, opts.ReorderFilters())
	require.Equal(t, int64(8192), opts.Int(BatchSize))
	require.Equal(t, FormatIndent, opts.Text(ExplainFormat))
}

func TestNew(t *testing.T) {
	t.Run("aliases and canonical names", func(t *testing.T) {
		opts, err := New(map[string]any{
			"pushdown_filters":                  true,
			"execution.parquet.reorder_filters": true,
			"pruning":                           false,
		})
		require.NoError(t, err)
		require.True(t, opts.PushdownFilters())
		require.True(t, opts.ReorderFilters())
		require.False(t, opts.Pruning())
		require.True(t, opts.PageIndex())
	})

	t.Run("canonical name wins over alias", func(t *testing.T) {
		opts, err := New(map[string]any{
			"pruning":                   false,
			"execution.parquet.pruning": true,
		})
		require.NoError(t, err)
		require.True(t, opts.Pruning())
	})

	t.Run("integer kinds are widened", func(t *testing.T) {
		opts, err := New(map[string]any{"batch_size": int32(16)})
		require.NoError(t, err)
		require.Equal(t, int64(16), opts.Int(BatchSize))
	})

	t.Run("empty overrides", func(t *testing.T) {
		opts, err := New(nil)
		require.NoError(t, err)
		require.Equal(t, Defaults().Entries(), opts.Entries())
	})
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   error
		wantName  string
	}{
		{
			name:      "unknown option",
			overrides: map[string]any{"execution.parquet.bloom_filter": true},
			wantErr:   ErrUnknownOption,
			wantName:  "execution.parquet.bloom_filter",
		},
		{
			name:      "string for bool",
			overrides: map[string]any{"pushdown_filters": "yes"},
			wantErr:   ErrTypeMismatch,
			wantName:  "pushdown_filters",
		},
		{
			name:      "float for int",
			overrides: map[string]any{"batch_size": 1.5},
			wantErr:   ErrTypeMismatch,
			wantName:  "batch_size",
		},
		{
			name:      "non positive batch size",
			overrides: map[string]any{"batch_size": 0},
			wantErr:   ErrTypeMismatch,
			wantName:  "batch_size",
		},
		{
			name:      "invalid explain format",
			overrides: map[string]any{"explain.format": "graphviz"},
			wantErr:   ErrTypeMismatch,
			wantName:  "explain.format",
		},
		{
			name:      "first failure in sorted order",
			overrides: map[string]any{"zzz": 1, "aaa": 2},
			wantErr:   ErrUnknownOption,
			wantName:  "aaa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.overrides)
			require.ErrorIs(t, err, tt.wantErr)

			var optErr *Error
			require.True(t, errors.As(err, &optErr))
			require.Equal(t, tt.wantName, optErr.Name)
		})
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("pushdown_filters", "true")
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = ParseValue(BatchSize, "128")
	require.NoError(t, err)
	require.Equal(t, int64(128), v)

	v, err = ParseValue("explain_format", "tree")
	require.NoError(t, err)
	require.Equal(t, "tree", v)

	_, err = ParseValue("pruning", "maybe")
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = ParseValue("nope", "1")
	require.ErrorIs(t, err, ErrUnknownOption)
}

func TestLookup(t *testing.T) {
	def, ok := Lookup("enable_page_index")
	require.True(t, ok)
	require.Equal(t, EnablePageIndex, def.Name)
	require.Equal(t, KindBool, def.Kind)

	_, ok = Lookup("page_index")
	require.False(t, ok)
}
