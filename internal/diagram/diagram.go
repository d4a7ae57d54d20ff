package diagram

import (
	"github.com/stagekit/flowline/internal/graph"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/pkg/schema"
)

// Model is the intermediate representation handed to the renderer.
// Nodes are in topological order; Start and End are virtual anchors.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one workflow node plus an optional run-status overlay.
type Node struct {
	ID          string
	Type        schema.NodeType
	Conditional bool
	// Status is the action status from a run's audit trail, empty when
	// rendering a bare definition.
	Status schema.ActionStatus
}

// Edge is a dependency between two nodes.
type Edge struct {
	From string
	To   string
}

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a Model from a definition and optional audit entries.
// The definition is validated the same way the executor validates it, so
// a diagram can only be built for a runnable workflow.
func Build(def *schema.WorkflowDefinition, actions []*store.ActionLog) (*Model, error) {
	g, err := graph.Build(def)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]schema.ActionStatus, len(actions))
	for _, a := range actions {
		statuses[a.NodeID] = a.Status
	}

	m := &Model{Title: def.Name}
	if m.Title == "" {
		m.Title = def.ID
	}

	m.Nodes = append(m.Nodes, &Node{ID: startID})
	for _, id := range g.Sorted {
		node := g.Nodes[id]
		m.Nodes = append(m.Nodes, &Node{
			ID:          id,
			Type:        node.Type,
			Conditional: node.Condition != "",
			Status:      statuses[id],
		})
		if len(g.Upstream[id]) == 0 {
			m.Edges = append(m.Edges, Edge{From: startID, To: id})
		}
		if len(g.Downstream[id]) == 0 {
			m.Edges = append(m.Edges, Edge{From: id, To: endID})
		}
	}
	m.Nodes = append(m.Nodes, &Node{ID: endID})

	for _, e := range def.Edges {
		m.Edges = append(m.Edges, Edge{From: e.Source, To: e.Target})
	}
	return m, nil
}
