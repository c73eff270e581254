package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/grafana/planprobe/pkg/engine/source"
	"github.com/grafana/planprobe/pkg/probe"
)

const ruleWidth = 80

var (
	bold     = color.New(color.Bold)
	faint    = color.New(color.Faint)
	errColor = color.New(color.FgRed, color.Bold)
)

func rule(w io.Writer, ch string) {
	fmt.Fprintln(w, strings.Repeat(ch, ruleWidth))
}

func section(w io.Writer) {
	fmt.Fprintln(w)
	rule(w, "=")
	fmt.Fprintln(w)
}

// renderReport prints a report in a fixed layout: query, EXPLAIN ANALYZE,
// timing, preview and plans.
func renderReport(w io.Writer, r *probe.Report, maxValueLength int) {
	bold.Fprintln(w, "Query:")
	fmt.Fprintln(w, r.Query)
	faint.Fprintf(w, "query_id=%s\n", r.QueryID)
	section(w)

	bold.Fprintln(w, "EXPLAIN ANALYZE Output:")
	rule(w, "-")
	writeExplain(w, r.Explain)
	section(w)

	fmt.Fprintf(w, "Query executed in: %.3f ms\n", float64(r.Elapsed)/float64(time.Millisecond))
	fmt.Fprintf(w, "Total rows returned: %s\n", humanize.Comma(r.TotalRows))
	if len(r.Preview) > 0 {
		fmt.Fprintln(w)
		bold.Fprintf(w, "First %d rows (%s truncated to %d chars):\n", len(r.Preview), r.PreviewColumn, maxValueLength)
		rule(w, "-")
		for _, row := range r.Preview {
			fmt.Fprintf(w, "Row %d: %s\n", row.Index+1, row.Text)
		}
	}
	section(w)

	renderPlans(w, r.Logical, r.Optimized, r.Physical)
}

func renderPlans(w io.Writer, logical, optimized, physical string) {
	bold.Fprintln(w, "Logical Plan:")
	fmt.Fprintln(w, logical)
	fmt.Fprintln(w)
	bold.Fprintln(w, "Optimized Logical Plan:")
	fmt.Fprintln(w, optimized)
	fmt.Fprintln(w)
	bold.Fprintln(w, "Physical Plan:")
	fmt.Fprintln(w, physical)
}

func renderExplain(w io.Writer, records []probe.ExplainRecord) {
	bold.Fprintln(w, "EXPLAIN ANALYZE Output:")
	rule(w, "-")
	writeExplain(w, records)
}

func writeExplain(w io.Writer, records []probe.ExplainRecord) {
	for _, r := range records {
		fmt.Fprintf(w, "%s: %s\n", r.Stage, r.Text)
	}
}

// renderSchema prints the columns of rel followed by the statistics of
// every column chunk.
func renderSchema(w io.Writer, name string, rel *source.Relation) {
	stats := rel.Statistics()
	bold.Fprintf(w, "Table %s\n", name)
	fmt.Fprintf(w, "location: %s, rows: %s, row groups: %d\n",
		rel.Location(),
		humanize.Comma(stats.NumRows),
		rel.NumRowGroups(),
	)

	columns := table.NewWriter()
	columns.SetOutputMirror(w)
	columns.SetStyle(table.StyleLight)
	columns.AppendHeader(table.Row{"#", "Column", "Type", "Nullable"})
	for i, field := range rel.Schema().Fields() {
		columns.AppendRow(table.Row{i, field.Name, field.Type.String(), field.Nullable})
	}
	columns.Render()

	chunks := table.NewWriter()
	chunks.SetOutputMirror(w)
	chunks.SetStyle(table.StyleLight)
	chunks.AppendHeader(table.Row{"Row group", "Rows", "Column", "Values", "Min", "Max", "Pages"})
	for i, rg := range stats.RowGroups {
		for _, col := range rg.Columns {
			minValue, maxValue := "-", "-"
			if col.HasBounds {
				minValue, maxValue = truncateBound(col.Min.String()), truncateBound(col.Max.String())
			}
			pages := "-"
			if col.NumPages > 0 {
				pages = humanize.Comma(int64(col.NumPages))
			}
			chunks.AppendRow(table.Row{i, humanize.Comma(rg.NumRows), col.Name, humanize.Comma(col.NumValues), minValue, maxValue, pages})
		}
		chunks.AppendSeparator()
	}
	chunks.Render()
	fmt.Fprintln(w)
}

// truncateBound keeps long byte array bounds on one table line.
func truncateBound(s string) string {
	const maxBound = 32
	if r := []rune(s); len(r) > maxBound {
		return string(r[:maxBound]) + probe.TruncationMarker
	}
	return s
}
