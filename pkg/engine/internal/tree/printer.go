package tree

import (
	"fmt"
	"io"
	"strings"
)

// Format selects how a [Printer] lays out nodes.
type Format string

const (
	// FormatIndent prints each child two spaces deeper than its parent.
	FormatIndent Format = "indent"
	// FormatTree prints the hierarchy with box-drawing connectors.
	FormatTree Format = "tree"
)

const (
	symConn = "├── "
	symLast = "└── "
	symPipe = "│   "
	symIndt = "    "
)

// Printer writes [Node] trees to an io.Writer.
type Printer struct {
	w      io.Writer
	format Format
}

// NewPrinter creates a printer with the given format. Unknown formats fall
// back to [FormatIndent].
func NewPrinter(w io.Writer, format Format) *Printer {
	if format != FormatTree {
		format = FormatIndent
	}
	return &Printer{w: w, format: format}
}

// Print writes the tree rooted at n, one node per line.
func (p *Printer) Print(n *Node) {
	switch p.format {
	case FormatTree:
		fmt.Fprintln(p.w, header(n))
		p.printTreeChildren(n, "")
	default:
		p.printIndent(n, 0)
	}
}

func (p *Printer) printIndent(n *Node, depth int) {
	fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", depth), header(n))
	for _, child := range n.Children {
		p.printIndent(child, depth+1)
	}
}

func (p *Printer) printTreeChildren(n *Node, prefix string) {
	for i, child := range n.Children {
		last := i == len(n.Children)-1

		conn, next := symConn, symPipe
		if last {
			conn, next = symLast, symIndt
		}
		fmt.Fprintf(p.w, "%s%s%s\n", prefix, conn, header(child))
		p.printTreeChildren(child, prefix+next)
	}
}

// Sprint renders n with the given format.
func Sprint(n *Node, format Format) string {
	var sb strings.Builder
	NewPrinter(&sb, format).Print(n)
	return sb.String()
}

func header(n *Node) string {
	var sb strings.Builder
	sb.WriteString(n.Name)
	for _, p := range n.Properties {
		sb.WriteByte(' ')
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		if p.IsMultiValue {
			sb.WriteByte('(')
			for i, v := range p.Values {
				if i > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprint(&sb, v)
			}
			sb.WriteByte(')')
			continue
		}
		for _, v := range p.Values {
			fmt.Fprint(&sb, v)
		}
	}
	return sb.String()
}
