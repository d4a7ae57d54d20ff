package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable workflow format: a directed
// acyclic graph of typed nodes. Definitions are immutable once a run has
// been claimed — the executor works from a snapshot, never the live row.
type WorkflowDefinition struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges,omitempty"`
	Outputs []string `json:"outputs,omitempty"` // node IDs the caller requires to succeed
}

// Node is a single typed step in a workflow definition.
type Node struct {
	ID        string          `json:"id"`
	Type      NodeType        `json:"type"`
	Condition string          `json:"condition,omitempty"` // expr guard, evaluated against the merged payload
	Config    json.RawMessage `json:"config,omitempty"`    // handler-specific payload
}

// Edge states that Target consumes the output of Source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeType enumerates the kinds of nodes a workflow can contain.
type NodeType string

const (
	NodeTypeCustomer   NodeType = "customerNode"
	NodeTypeJob        NodeType = "jobNode"
	NodeTypeTask       NodeType = "taskNode"
	NodeTypeQuote      NodeType = "quoteNode"
	NodeTypeMessaging  NodeType = "messagingNode"
	NodeTypeEmail      NodeType = "emailNode"
	NodeTypeWhatsApp   NodeType = "whatsappNode"
	NodeTypeAutomation NodeType = "automationNode"
	NodeTypeVision     NodeType = "visionNode"
	NodeTypeSocial     NodeType = "socialNode"
	NodeTypeCustom     NodeType = "customNode"
)

// ExecutionStatus represents the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ActionStatus represents the lifecycle state of one node execution attempt.
type ActionStatus string

const (
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusSuccess    ActionStatus = "success"
	ActionStatusError      ActionStatus = "error"
	ActionStatusSkipped    ActionStatus = "skipped"
)

// Terminal reports whether an action log entry may no longer change.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusSuccess || s == ActionStatusError || s == ActionStatusSkipped
}
