package graph

import (
	"errors"
	"testing"

	"github.com/stagekit/flowline/pkg/schema"
)

// --- helpers ---

func node(id string, typ schema.NodeType) schema.Node {
	return schema.Node{ID: id, Type: typ}
}

func def(nodes []schema.Node, edges []schema.Edge) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:    "wf-test",
		Nodes: nodes,
		Edges: edges,
	}
}

func mustBuild(t *testing.T, d *schema.WorkflowDefinition) *Graph {
	t.Helper()
	g, err := Build(d)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return g
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *schema.FlowError, got %T: %v", err, err)
	}
	return fe.Code
}

// --- Build ---

func TestBuild_LinearChain(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("b", schema.NodeTypeJob),
			node("c", schema.NodeTypeEmail),
		},
		[]schema.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
	))

	if len(g.Sorted) != 3 {
		t.Fatalf("expected 3 sorted nodes, got %d", len(g.Sorted))
	}
	if g.Sorted[0] != "a" || g.Sorted[1] != "b" || g.Sorted[2] != "c" {
		t.Errorf("unexpected order: %v", g.Sorted)
	}
	if len(g.Roots) != 1 || g.Roots[0] != "a" {
		t.Errorf("unexpected roots: %v", g.Roots)
	}
	if got := g.Upstream["c"]; len(got) != 1 || got[0] != "b" {
		t.Errorf("unexpected upstream of c: %v", got)
	}
}

func TestBuild_Diamond(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("start", schema.NodeTypeCustomer),
			node("left", schema.NodeTypeTask),
			node("right", schema.NodeTypeQuote),
			node("end", schema.NodeTypeEmail),
		},
		[]schema.Edge{
			{Source: "start", Target: "left"},
			{Source: "start", Target: "right"},
			{Source: "left", Target: "end"},
			{Source: "right", Target: "end"},
		},
	))

	if g.Sorted[0] != "start" {
		t.Errorf("expected start first, got %v", g.Sorted)
	}
	if g.Sorted[3] != "end" {
		t.Errorf("expected end last, got %v", g.Sorted)
	}
	if len(g.Upstream["end"]) != 2 {
		t.Errorf("expected end to have 2 upstream nodes, got %v", g.Upstream["end"])
	}
}

func TestBuild_NilDefinition(t *testing.T) {
	_, err := Build(nil)
	if code := errCode(t, err); code != schema.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestBuild_EmptyNodes(t *testing.T) {
	_, err := Build(def(nil, nil))
	if code := errCode(t, err); code != schema.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	_, err := Build(def(
		[]schema.Node{node("a", schema.NodeTypeCustomer), node("a", schema.NodeTypeJob)},
		nil,
	))
	if code := errCode(t, err); code != schema.ErrCodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestBuild_UnknownNodeType(t *testing.T) {
	_, err := Build(def([]schema.Node{node("a", "mysteryNode")}, nil))
	if code := errCode(t, err); code != schema.ErrCodeUnknownNodeType {
		t.Errorf("expected UNKNOWN_NODE_TYPE, got %s", code)
	}
}

func TestBuild_DanglingEdge(t *testing.T) {
	_, err := Build(def(
		[]schema.Node{node("a", schema.NodeTypeCustomer)},
		[]schema.Edge{{Source: "a", Target: "ghost"}},
	))
	if code := errCode(t, err); code != schema.ErrCodeStructural {
		t.Errorf("expected STRUCTURAL_ERROR, got %s", code)
	}
}

func TestBuild_SelfEdge(t *testing.T) {
	_, err := Build(def(
		[]schema.Node{node("a", schema.NodeTypeCustomer)},
		[]schema.Edge{{Source: "a", Target: "a"}},
	))
	if code := errCode(t, err); code != schema.ErrCodeCycleDetected {
		t.Errorf("expected CYCLE_DETECTED, got %s", code)
	}
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build(def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("b", schema.NodeTypeJob),
			node("c", schema.NodeTypeTask),
		},
		[]schema.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
		},
	))
	if code := errCode(t, err); code != schema.ErrCodeCycleDetected {
		t.Errorf("expected CYCLE_DETECTED, got %s", code)
	}
}

func TestBuild_DuplicateEdge(t *testing.T) {
	_, err := Build(def(
		[]schema.Node{node("a", schema.NodeTypeCustomer), node("b", schema.NodeTypeJob)},
		[]schema.Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "b"}},
	))
	if code := errCode(t, err); code != schema.ErrCodeStructural {
		t.Errorf("expected STRUCTURAL_ERROR, got %s", code)
	}
}

func TestBuild_DisconnectedComponents(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("x", schema.NodeTypeVision),
		},
		nil,
	))
	if len(g.Roots) != 2 {
		t.Errorf("expected 2 roots, got %v", g.Roots)
	}
}

// --- Ready ---

func TestReady_RootsFirst(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("b", schema.NodeTypeJob),
		},
		[]schema.Edge{{Source: "a", Target: "b"}},
	))

	ready := g.Ready(map[string]bool{})
	if len(ready) != 1 || ready[0] != "a" {
		t.Errorf("expected [a], got %v", ready)
	}
}

func TestReady_UnblocksDependents(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("b", schema.NodeTypeJob),
			node("c", schema.NodeTypeTask),
		},
		[]schema.Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "c"}},
	))

	ready := g.Ready(map[string]bool{"a": true})
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready nodes, got %v", ready)
	}
	if ready[0] != "b" || ready[1] != "c" {
		t.Errorf("expected deterministic [b c], got %v", ready)
	}
}

func TestReady_EmptyWhenAllFinished(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{node("a", schema.NodeTypeCustomer)},
		nil,
	))
	if ready := g.Ready(map[string]bool{"a": true}); len(ready) != 0 {
		t.Errorf("expected no ready nodes, got %v", ready)
	}
}

// --- Descendants ---

func TestDescendants(t *testing.T) {
	g := mustBuild(t, def(
		[]schema.Node{
			node("a", schema.NodeTypeCustomer),
			node("b", schema.NodeTypeJob),
			node("c", schema.NodeTypeTask),
			node("d", schema.NodeTypeEmail),
		},
		[]schema.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "a", Target: "d"},
		},
	))

	got := g.Descendants("b")
	if len(got) != 1 || got[0] != "c" {
		t.Errorf("expected [c], got %v", got)
	}

	got = g.Descendants("a")
	if len(got) != 3 {
		t.Errorf("expected 3 descendants of a, got %v", got)
	}
}
