package handlers

import (
	"context"
	"sort"
	"sync"

	"github.com/stagekit/flowline/pkg/schema"
)

// CallbackFunc is application code invoked by a custom node. Callbacks are
// registered by name at startup; definitions reference them by the
// "callback" key in node config, so stored workflows stay pure data.
type CallbackFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// CallbackRegistry is the thread-safe lookup table for custom node callbacks.
type CallbackRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]CallbackFunc
}

// NewCallbackRegistry creates an empty CallbackRegistry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		callbacks: make(map[string]CallbackFunc),
	}
}

// Register adds a callback under a name. Returns error on duplicate name.
func (r *CallbackRegistry) Register(name string, fn CallbackFunc) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "callback name is empty")
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "callback %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.callbacks[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "callback %q already registered", name)
	}
	r.callbacks[name] = fn
	return nil
}

// Get retrieves a callback by name.
func (r *CallbackRegistry) Get(name string) (CallbackFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.callbacks[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "callback %q not registered", name)
	}
	return fn, nil
}

// Names returns all registered callback names, sorted.
func (r *CallbackRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.callbacks))
	for n := range r.callbacks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CustomHandler dispatches custom nodes to registered callbacks.
type CustomHandler struct {
	callbacks *CallbackRegistry
}

// NewCustomHandler creates the handler for custom nodes.
func NewCustomHandler(callbacks *CallbackRegistry) *CustomHandler {
	return &CustomHandler{callbacks: callbacks}
}

func (h *CustomHandler) Type() schema.NodeType { return schema.NodeTypeCustom }
func (h *CustomHandler) Action() string        { return ActionFor(schema.NodeTypeCustom) }

func (h *CustomHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	name := stringParam(input.Payload, "callback", "")
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeHandler, "custom node requires a callback name").
			WithNode(input.Node.ID)
	}
	fn, err := h.callbacks.Get(name)
	if err != nil {
		return nil, err.(*schema.FlowError).WithNode(input.Node.ID)
	}
	result, err := fn(ctx, input.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "callback %s: %v", name, err).
			WithNode(input.Node.ID).WithCause(err)
	}
	return &Output{Data: result}, nil
}
