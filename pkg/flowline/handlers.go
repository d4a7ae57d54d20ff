package flowline

import (
	"context"
	"time"

	"github.com/stagekit/flowline/internal/handlers"
	"github.com/stagekit/flowline/pkg/schema"
)

// RecordCreator creates business records (customers, jobs, tasks, quotes).
// The returned map is the persisted record and must contain an "id" field.
type RecordCreator interface {
	Create(ctx context.Context, kind string, fields map[string]any) (map[string]any, error)
}

// MessageSender delivers a message over a channel (sms, email, whatsapp).
type MessageSender interface {
	Send(ctx context.Context, channel string, params map[string]any) (map[string]any, error)
}

// AutomationTrigger fires an external automation by id.
type AutomationTrigger interface {
	Trigger(ctx context.Context, automationID string, params map[string]any) error
}

// VisionAnalyzer runs image analysis.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, params map[string]any) (map[string]any, error)
}

// SocialPoster publishes a post to a social channel.
type SocialPoster interface {
	Publish(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Collaborators bundles the external services the built-in node handlers
// delegate to. Nil fields leave the corresponding node types unregistered,
// so definitions using them are rejected at execution time.
type Collaborators struct {
	Records    RecordCreator
	Messages   MessageSender
	Automation AutomationTrigger
	Vision     VisionAnalyzer
	Social     SocialPoster
}

// NewWebhookAutomation returns an AutomationTrigger that posts automation
// params as JSON to baseURL/<automation-id>. A zero timeout uses a 30s
// default.
func NewWebhookAutomation(baseURL string, timeout time.Duration) (AutomationTrigger, error) {
	return handlers.NewWebhookAutomation(baseURL, timeout)
}

// HandlerInput is the data a registered handler receives at execution
// time. Payload is the node's static config merged with the run input and
// upstream node outputs.
type HandlerInput struct {
	ExecutionID string
	WorkflowID  string
	Node        *schema.Node
	Payload     map[string]any
}

// HandlerFunc is application code serving one node type. The returned map
// becomes the node's entry in the run's output map and feeds downstream
// payloads.
type HandlerFunc func(ctx context.Context, input HandlerInput) (map[string]any, error)

// CallbackFunc is application code invoked by a custom node. Definitions
// reference callbacks by the "callback" key in node config.
type CallbackFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// funcHandler adapts a HandlerFunc to the internal handler contract.
type funcHandler struct {
	typ    schema.NodeType
	action string
	fn     HandlerFunc
}

func (h *funcHandler) Type() schema.NodeType { return h.typ }

func (h *funcHandler) Action() string { return h.action }

func (h *funcHandler) Execute(ctx context.Context, input handlers.Input) (*handlers.Output, error) {
	data, err := h.fn(ctx, HandlerInput{
		ExecutionID: input.ExecutionID,
		WorkflowID:  input.WorkflowID,
		Node:        input.Node,
		Payload:     input.Payload,
	})
	if err != nil {
		return nil, err
	}
	return &handlers.Output{Data: data}, nil
}
