package handlers

import (
	"context"

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

// Collaborators bundles the external services the built-in handlers
// delegate to. Nil fields leave the corresponding node types unregistered,
// so definitions using them fail fast with UNKNOWN_NODE_TYPE.
type Collaborators struct {
	Records    RecordCreator
	Messages   MessageSender
	Automation AutomationTrigger
	Vision     VisionAnalyzer
	Social     SocialPoster
}

// RegisterBuiltins registers a handler for every node type the given
// collaborators can serve.
func RegisterBuiltins(reg *Registry, c Collaborators) error {
	var hs []Handler

	if c.Records != nil {
		hs = append(hs,
			&recordHandler{typ: schema.NodeTypeCustomer, kind: "customer", creator: c.Records},
			&recordHandler{typ: schema.NodeTypeJob, kind: "job", creator: c.Records},
			&recordHandler{typ: schema.NodeTypeTask, kind: "task", creator: c.Records},
			&recordHandler{typ: schema.NodeTypeQuote, kind: "quote", creator: c.Records},
		)
	}
	if c.Messages != nil {
		hs = append(hs,
			&messagingHandler{typ: schema.NodeTypeMessaging, sender: c.Messages},
			&messagingHandler{typ: schema.NodeTypeEmail, channel: "email", sender: c.Messages},
			&messagingHandler{typ: schema.NodeTypeWhatsApp, channel: "whatsapp", sender: c.Messages},
		)
	}
	if c.Automation != nil {
		hs = append(hs, &automationHandler{trigger: c.Automation})
	}
	if c.Vision != nil {
		hs = append(hs, &visionHandler{analyzer: c.Vision})
	}
	if c.Social != nil {
		hs = append(hs, &socialHandler{poster: c.Social})
	}

	for _, h := range hs {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// --- record nodes ---

type recordHandler struct {
	typ     schema.NodeType
	kind    string
	creator RecordCreator
}

func (h *recordHandler) Type() schema.NodeType { return h.typ }
func (h *recordHandler) Action() string        { return ActionFor(h.typ) }

func (h *recordHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	rec, err := h.creator.Create(ctx, h.kind, input.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "create %s: %v", h.kind, err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: map[string]any{
		h.kind + "Id":   rec["id"],
		h.kind + "Data": rec,
	}}, nil
}

// --- messaging nodes ---

type messagingHandler struct {
	typ     schema.NodeType
	channel string // empty means take channel from the payload
	sender  MessageSender
}

func (h *messagingHandler) Type() schema.NodeType { return h.typ }
func (h *messagingHandler) Action() string        { return ActionFor(h.typ) }

func (h *messagingHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	channel := h.channel
	if channel == "" {
		channel = stringParam(input.Payload, "channel", "sms")
	}
	msg, err := h.sender.Send(ctx, channel, input.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "send %s message: %v", channel, err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: map[string]any{
		"messageId":   msg["id"],
		"messageData": msg,
	}}, nil
}

// --- automation nodes ---

type automationHandler struct {
	trigger AutomationTrigger
}

func (h *automationHandler) Type() schema.NodeType { return schema.NodeTypeAutomation }
func (h *automationHandler) Action() string        { return ActionFor(schema.NodeTypeAutomation) }

func (h *automationHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	automationID := stringParam(input.Payload, "automationId", "")
	if automationID == "" {
		return nil, schema.NewError(schema.ErrCodeHandler, "automation node requires automationId").
			WithNode(input.Node.ID)
	}
	if err := h.trigger.Trigger(ctx, automationID, input.Payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "trigger automation %s: %v", automationID, err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: map[string]any{
		"automationId": automationID,
		"triggered":    true,
	}}, nil
}

// --- vision nodes ---

type visionHandler struct {
	analyzer VisionAnalyzer
}

func (h *visionHandler) Type() schema.NodeType { return schema.NodeTypeVision }
func (h *visionHandler) Action() string        { return ActionFor(schema.NodeTypeVision) }

func (h *visionHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	analysis, err := h.analyzer.Analyze(ctx, input.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "analyze image: %v", err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: map[string]any{
		"analysisId":   analysis["id"],
		"analysisData": analysis,
	}}, nil
}

// --- social nodes ---

type socialHandler struct {
	poster SocialPoster
}

func (h *socialHandler) Type() schema.NodeType { return schema.NodeTypeSocial }
func (h *socialHandler) Action() string        { return ActionFor(schema.NodeTypeSocial) }

func (h *socialHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	post, err := h.poster.Publish(ctx, input.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "publish post: %v", err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: map[string]any{
		"postId":   post["id"],
		"postData": post,
	}}, nil
}
