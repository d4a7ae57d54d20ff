package flowline

import (
	"context"

	"github.com/stagekit/flowline/internal/streaming"
)

// Event types delivered by SubscribeEvents.
const (
	EventExecutionEnqueued  = streaming.EventExecutionEnqueued
	EventExecutionStarted   = streaming.EventExecutionStarted
	EventExecutionCompleted = streaming.EventExecutionCompleted
	EventExecutionFailed    = streaming.EventExecutionFailed
)

// ExecutionEvent is a real-time notification of a run moving through the
// queue lifecycle.
type ExecutionEvent struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Type        string `json:"type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter narrows a subscription. Zero fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// SubscribeEvents returns a channel of execution lifecycle events and a
// cancel function. The channel is closed after cancel or when ctx ends.
// Slow consumers lose events rather than blocking the engine.
func (s *Service) SubscribeEvents(ctx context.Context, filter EventFilter) (<-chan ExecutionEvent, func(), error) {
	inner, unsubscribe, err := s.events.Subscribe(ctx, streaming.EventFilter{
		ExecutionID: filter.ExecutionID,
		WorkflowID:  filter.WorkflowID,
		Types:       filter.Types,
	})
	if err != nil {
		return nil, nil, err
	}

	out := make(chan ExecutionEvent, 64)
	pumpCtx, stopPump := context.WithCancel(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case e := <-inner:
				select {
				case out <- ExecutionEvent(e):
				case <-pumpCtx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		unsubscribe()
		stopPump()
	}
	return out, cancel, nil
}
