package graph

import (
	"fmt"
	"strings"
)

// DOT exports the graph as Graphviz DOT text. Edges point from a dependency
// to its dependent, the order in which units come up.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph envctl {\n")
	b.WriteString("  rankdir=LR;\n")
	for i, u := range g.units {
		b.WriteString(fmt.Sprintf("  n%d [label=\"%s\\n(%s)\"];\n", i, escapeQuotes(u.ID), escapeQuotes(string(u.Kind))))
	}
	for i, u := range g.units {
		for _, dep := range u.DependsOn {
			b.WriteString(fmt.Sprintf("  n%d -> n%d;\n", g.index[dep], i))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports the graph as Mermaid flowchart text.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for i, u := range g.units {
		b.WriteString(fmt.Sprintf("    n%d[\"%s<br/>(%s)\"]\n", i, escapeQuotes(u.ID), escapeQuotes(string(u.Kind))))
	}
	for i, u := range g.units {
		for _, dep := range u.DependsOn {
			b.WriteString(fmt.Sprintf("    n%d --> n%d\n", g.index[dep], i))
		}
	}
	return b.String()
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}
