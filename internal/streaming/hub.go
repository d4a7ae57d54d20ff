package streaming

import "context"

// Event types published over the hub.
const (
	EventExecutionEnqueued  = "execution.enqueued"
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
)

// ExecutionEvent is a real-time event emitted as a run moves through the
// queue lifecycle.
type ExecutionEvent struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Type        string `json:"type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Zero fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event ExecutionEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan ExecutionEvent, func(), error)
}
