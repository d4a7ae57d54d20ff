package graph

import (
	"fmt"

	"github.com/stagekit/flowline/pkg/schema"
)

// Graph is the in-memory dependency graph of a workflow. Built once from a
// WorkflowDefinition snapshot, used by the executor to decide which nodes
// are ready to run.
type Graph struct {
	Nodes      map[string]*schema.Node // node ID → definition
	Upstream   map[string][]string     // node ID → nodes it depends on
	Downstream map[string][]string     // node ID → nodes depending on it
	Sorted     []string                // topological order
	Roots      []string                // nodes with no upstream edges
}

// validNodeTypes is the set of recognized node types.
var validNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeCustomer:   true,
	schema.NodeTypeJob:        true,
	schema.NodeTypeTask:       true,
	schema.NodeTypeQuote:      true,
	schema.NodeTypeMessaging:  true,
	schema.NodeTypeEmail:      true,
	schema.NodeTypeWhatsApp:   true,
	schema.NodeTypeAutomation: true,
	schema.NodeTypeVision:     true,
	schema.NodeTypeSocial:     true,
	schema.NodeTypeCustom:     true,
}

// Build parses a WorkflowDefinition into a dependency graph. It validates
// node and edge integrity, builds adjacency lists from the edge list, and
// performs a topological sort using Kahn's algorithm to detect cycles before
// any node runs.
func Build(def *schema.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no nodes")
	}

	g := &Graph{
		Nodes:      make(map[string]*schema.Node, len(def.Nodes)),
		Upstream:   make(map[string][]string, len(def.Nodes)),
		Downstream: make(map[string][]string, len(def.Nodes)),
	}

	// First pass: register all nodes and check for duplicates.
	for i := range def.Nodes {
		node := &def.Nodes[i]

		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}
		if !validNodeTypes[node.Type] {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "node %s has unknown type: %s", node.ID, node.Type)
		}

		g.Nodes[node.ID] = node
		g.Upstream[node.ID] = nil
		g.Downstream[node.ID] = nil
	}

	// Second pass: build adjacency lists from the edge list.
	type edgeKey struct{ source, target string }
	seen := make(map[edgeKey]bool, len(def.Edges))
	for _, edge := range def.Edges {
		if _, exists := g.Nodes[edge.Source]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeStructural, "edge references non-existent source node: %s", edge.Source)
		}
		if _, exists := g.Nodes[edge.Target]; !exists {
			return nil, schema.NewErrorf(schema.ErrCodeStructural, "edge references non-existent target node: %s", edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", edge.Source)
		}
		key := edgeKey{edge.Source, edge.Target}
		if seen[key] {
			return nil, schema.NewErrorf(schema.ErrCodeStructural, "duplicate edge: %s -> %s", edge.Source, edge.Target)
		}
		seen[key] = true

		g.Upstream[edge.Target] = append(g.Upstream[edge.Target], edge.Source)
		g.Downstream[edge.Source] = append(g.Downstream[edge.Source], edge.Target)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.Upstream[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sortStrings(queue)
	g.Roots = make([]string, len(queue))
	copy(g.Roots, queue)

	sorted := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(g.Downstream[node]))
		copy(dependents, g.Downstream[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle")
	}
	g.Sorted = sorted

	return g, nil
}

// Ready returns the nodes whose upstream dependencies are all finished and
// which are not themselves finished, in deterministic (topological) order.
// An empty result while unfinished nodes remain means the graph cannot make
// progress; Build rules out cycles, so the executor treats that as a defect.
func (g *Graph) Ready(finished map[string]bool) []string {
	var ready []string
	for _, id := range g.Sorted {
		if finished[id] {
			continue
		}
		ok := true
		for _, up := range g.Upstream[id] {
			if !finished[up] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// Descendants returns every node reachable via downstream edges from the
// given node, in topological order. Used to skip the dependent subtree when
// a node fails or is skipped.
func (g *Graph) Descendants(id string) []string {
	reached := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.Downstream[n] {
			if !reached[d] {
				reached[d] = true
				walk(d)
			}
		}
	}
	walk(id)

	var out []string
	for _, n := range g.Sorted {
		if reached[n] {
			out = append(out, n)
		}
	}
	return out
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
