package diagram

import (
	"fmt"
	"strings"

	"github.com/stagekit/flowline/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart string. Node shape
// encodes the kind: circles for the virtual anchors, diamonds for
// conditional nodes, double brackets for custom nodes, rectangles for the
// rest. Run statuses map to class overlays.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	for _, node := range m.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range m.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef in_progress fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range m.Nodes {
		if node.Status == "" {
			continue
		}
		fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), string(node.Status))
	}

	return b.String()
}

func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	switch {
	case node.ID == startID:
		return fmt.Sprintf("%s((%q))", id, "start")
	case node.ID == endID:
		return fmt.Sprintf("%s((%q))", id, "end")
	case node.Conditional:
		return fmt.Sprintf("%s{%q}", id, label(node))
	case node.Type == schema.NodeTypeCustom:
		return fmt.Sprintf("%s[[%q]]", id, label(node))
	default:
		return fmt.Sprintf("%s[%q]", id, label(node))
	}
}

func label(node *Node) string {
	return fmt.Sprintf("%s: %s", node.ID, node.Type)
}

// mermaidSafeID converts a node id to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
