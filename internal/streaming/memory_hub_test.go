package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, h *MemoryHub, e ExecutionEvent) {
	t.Helper()
	require.NoError(t, h.Publish(context.Background(), e))
}

func receive(t *testing.T, ch <-chan ExecutionEvent) ExecutionEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ExecutionEvent{}
	}
}

func TestMemoryHubPublishSubscribe(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	publish(t, h, ExecutionEvent{ExecutionID: "e1", WorkflowID: "w1", Type: EventExecutionStarted})

	got := receive(t, ch)
	assert.Equal(t, "e1", got.ExecutionID)
	assert.Equal(t, EventExecutionStarted, got.Type)
}

func TestMemoryHubFilterByExecution(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), EventFilter{ExecutionID: "e2"})
	require.NoError(t, err)
	defer cancel()

	publish(t, h, ExecutionEvent{ExecutionID: "e1", Type: EventExecutionStarted})
	publish(t, h, ExecutionEvent{ExecutionID: "e2", Type: EventExecutionCompleted})

	got := receive(t, ch)
	assert.Equal(t, "e2", got.ExecutionID)
	assert.Empty(t, ch)
}

func TestMemoryHubFilterByType(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), EventFilter{
		Types: []string{EventExecutionFailed},
	})
	require.NoError(t, err)
	defer cancel()

	publish(t, h, ExecutionEvent{ExecutionID: "e1", Type: EventExecutionEnqueued})
	publish(t, h, ExecutionEvent{ExecutionID: "e1", Type: EventExecutionFailed})

	got := receive(t, ch)
	assert.Equal(t, EventExecutionFailed, got.Type)
}

func TestMemoryHubCancelRemovesSubscriber(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)

	cancel()
	publish(t, h, ExecutionEvent{ExecutionID: "e1", Type: EventExecutionStarted})
	assert.Empty(t, ch)
}

func TestMemoryHubSlowSubscriberDropsEvents(t *testing.T) {
	h := NewMemoryHub()
	ch, cancel, err := h.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Overfill the buffer; Publish must not block.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		publish(t, h, ExecutionEvent{ExecutionID: "e1", Type: EventExecutionEnqueued})
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestMemoryHubCancelledContext(t *testing.T) {
	h := NewMemoryHub()
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()

	_, _, err := h.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
	assert.Error(t, h.Publish(ctx, ExecutionEvent{}))
}
