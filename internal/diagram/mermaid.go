package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders the graph as a Mermaid flowchart.
func RenderMermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if g.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", g.Title)
	}
	renderInto(&b, g, "", 1)
	return b.String()
}

// renderInto writes nodes and edges at the given nesting depth. Nested graphs
// get their node IDs prefixed so branches of sibling states never collide.
func renderInto(b *strings.Builder, g *Graph, prefix string, depth int) {
	pad := strings.Repeat("    ", depth)

	for _, node := range g.Nodes {
		fmt.Fprintf(b, "%s%s\n", pad, nodeDef(node, prefix))
		for _, sg := range node.Children {
			sub := prefix + node.ID + "_" + sg.Label + "_"
			fmt.Fprintf(b, "%ssubgraph %s[\"%s: %s\"]\n", pad, safeID(sub), node.ID, sg.Label)
			renderInto(b, sg.Graph, sub, depth+1)
			fmt.Fprintf(b, "%send\n", pad)
		}
	}

	for _, edge := range g.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(b, "%s%s -->%s %s\n", pad, safeID(prefix+edge.From), label, safeID(prefix+edge.To))
	}
}

// nodeDef picks the Mermaid shape for a node kind.
func nodeDef(node *Node, prefix string) string {
	id := safeID(prefix + node.ID)
	label := fmt.Sprintf("%q", firstLine(node.Label))

	switch node.Kind {
	case KindChoice:
		return fmt.Sprintf("%s{%s}", id, label)
	case KindWait:
		return fmt.Sprintf("%s([%s])", id, label)
	case KindParallel, KindMap:
		return fmt.Sprintf("%s[[%s]]", id, label)
	case KindStart, KindSucceed, KindFail:
		return fmt.Sprintf("%s((%s))", id, label)
	default:
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

// safeID strips characters Mermaid treats as syntax out of identifiers.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", "$", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
