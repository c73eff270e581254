package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testTree() *Node {
	root := NewNode("Limit", NewProperty("offset", false, 0), NewProperty("limit", false, 5))
	proj := root.AddChild(NewNode("Projection", NewProperty("columns", true, "a", "b")))
	filter := proj.AddChild(NewNode("Filter", NewProperty("predicate[0]", false, "a = 1")))
	filter.AddChild(NewNode("ParquetScan", NewProperty("location", false, "runs.parquet")))
	proj.AddChild(NewNode("Other"))
	return root
}

func TestPrinter_Indent(t *testing.T) {
	expected := `Limit offset=0 limit=5
  Projection columns=(a, b)
    Filter predicate[0]=a = 1
      ParquetScan location=runs.parquet
    Other
`
	require.Equal(t, expected, Sprint(testTree(), FormatIndent))
}

func TestPrinter_Tree(t *testing.T) {
	expected := `Limit offset=0 limit=5
└── Projection columns=(a, b)
    ├── Filter predicate[0]=a = 1
    │   └── ParquetScan location=runs.parquet
    └── Other
`
	require.Equal(t, expected, Sprint(testTree(), FormatTree))
}

func TestPrinter_UnknownFormat(t *testing.T) {
	require.Equal(t, Sprint(testTree(), FormatIndent), Sprint(testTree(), Format("dot")))
}

func TestPrinter_EmptyMultiValue(t *testing.T) {
	n := NewNode("Projection", NewProperty("columns", true))
	require.Equal(t, "Projection columns=()\n", Sprint(n, FormatIndent))
}
