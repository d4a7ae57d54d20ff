package handlers

import (
	"context"

	"github.com/stagekit/flowline/pkg/schema"
)

// Handler executes the work for one node type. Implementations must be
// stateless and safe for concurrent use.
type Handler interface {
	Type() schema.NodeType
	// Action is the audit-trail label recorded for every attempt,
	// e.g. "process_customer" or "send_message".
	Action() string
	Execute(ctx context.Context, input Input) (*Output, error)
}

// Input is the data a handler receives at execution time. Payload is the
// node's static config merged with the run input and upstream outputs.
type Input struct {
	ExecutionID string
	WorkflowID  string
	Node        *schema.Node
	Payload     map[string]any
}

// Output is the result of a handler execution. Data becomes the node's
// entry in the run's output map and feeds downstream payloads.
type Output struct {
	Data map[string]any
}

// actionLabels maps node types to their audit-trail action labels.
var actionLabels = map[schema.NodeType]string{
	schema.NodeTypeCustomer:   "process_customer",
	schema.NodeTypeJob:        "process_job",
	schema.NodeTypeTask:       "process_task",
	schema.NodeTypeQuote:      "process_quote",
	schema.NodeTypeMessaging:  "send_message",
	schema.NodeTypeEmail:      "send_message",
	schema.NodeTypeWhatsApp:   "send_message",
	schema.NodeTypeAutomation: "execute_automation",
	schema.NodeTypeVision:     "analyze_vision",
	schema.NodeTypeSocial:     "publish_social",
	schema.NodeTypeCustom:     "execute_custom",
}

// ActionFor returns the audit-trail label for a node type, or
// "execute_node" for types outside the known set.
func ActionFor(t schema.NodeType) string {
	if label, ok := actionLabels[t]; ok {
		return label
	}
	return "execute_node"
}

// --- Param helpers shared by handler implementations ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	mm, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return mm
}
