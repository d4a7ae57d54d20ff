package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/pkg/schema"
)

func branchingDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf-lead",
		Name: "lead intake",
		Nodes: []schema.Node{
			{ID: "customer", Type: schema.NodeTypeCustomer},
			{ID: "notify", Type: schema.NodeTypeMessaging, Condition: `input.notify == true`},
			{ID: "post", Type: schema.NodeTypeSocial},
		},
		Edges: []schema.Edge{
			{Source: "customer", Target: "notify"},
			{Source: "customer", Target: "post"},
		},
	}
}

func TestBuildModel(t *testing.T) {
	m, err := Build(branchingDef(), nil)
	require.NoError(t, err)

	assert.Equal(t, "lead intake", m.Title)
	// start + 3 nodes + end
	require.Len(t, m.Nodes, 5)
	assert.Equal(t, "__start__", m.Nodes[0].ID)
	assert.Equal(t, "customer", m.Nodes[1].ID)
	assert.Equal(t, "__end__", m.Nodes[4].ID)
	assert.True(t, m.Nodes[2].Conditional || m.Nodes[3].Conditional)

	// start→customer, notify→end, post→end, plus the two defined edges.
	assert.Len(t, m.Edges, 5)
}

func TestBuildRejectsBrokenDefinition(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "broken",
		Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeCustom}},
		Edges: []schema.Edge{{Source: "a", Target: "ghost"}},
	}
	_, err := Build(def, nil)
	require.Error(t, err)
}

func TestRenderMermaid(t *testing.T) {
	m, err := Build(branchingDef(), []*store.ActionLog{
		{NodeID: "customer", Status: schema.ActionStatusSuccess},
		{NodeID: "notify", Status: schema.ActionStatusSkipped},
	})
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "%% lead intake")
	assert.Contains(t, out, `customer["customer: customerNode"]`)
	assert.Contains(t, out, `notify{"notify: messagingNode"}`)
	assert.Contains(t, out, "__start__ --> customer")
	assert.Contains(t, out, "customer --> notify")
	assert.Contains(t, out, "post --> __end__")
	assert.Contains(t, out, "class customer success")
	assert.Contains(t, out, "class notify skipped")
}

func TestRenderMermaidSafeIDs(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "wf",
		Nodes: []schema.Node{{ID: "step-one.final", Type: schema.NodeTypeTask}},
	}
	m, err := Build(def, nil)
	require.NoError(t, err)

	out := RenderMermaid(m)
	assert.Contains(t, out, "step_one_final")
	assert.NotContains(t, out, "step-one.final[")
}
