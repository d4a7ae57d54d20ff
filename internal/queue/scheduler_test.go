package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagekit/flowline/internal/store"
)

// mockEnqueuer records enqueued runs.
type mockEnqueuer struct {
	mu    sync.Mutex
	calls []struct {
		workflowID string
		input      map[string]any
	}
	err error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, workflowID string, input map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.calls = append(m.calls, struct {
		workflowID string
		input      map[string]any
	}{workflowID, input})
	return "exec-mock", nil
}

func seedSchedule(s *mockQueueStore, id string, enabled bool, nextRun *time.Time, params json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[id] = &store.Schedule{
		ID:             id,
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		Params:         params,
		Enabled:        enabled,
		NextRunAt:      nextRun,
	}
}

func schedule(s *mockQueueStore, id string) *store.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.schedules[id]
	return &cp
}

func TestSchedulerTick_FiresOnlyDueEnabled(t *testing.T) {
	s := newMockQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	seedSchedule(s, "due", true, &past, json.RawMessage(`{"source":"schedule"}`))
	seedSchedule(s, "future", true, &future, nil)
	seedSchedule(s, "disabled", false, &past, nil)

	enq := &mockEnqueuer{}
	sched := NewScheduler(s, enq, time.Minute, nil)
	sched.Tick(context.Background())

	require.Len(t, enq.calls, 1)
	assert.Equal(t, "wf-1", enq.calls[0].workflowID)
	assert.Equal(t, "schedule", enq.calls[0].input["source"])
}

func TestSchedulerFire_AdvancesNextRun(t *testing.T) {
	s := newMockQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(s, "due", true, &past, nil)

	sched := NewScheduler(s, &mockEnqueuer{}, time.Minute, nil)
	sched.Tick(context.Background())

	got := schedule(s, "due")
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, "enqueued", got.LastRunStatus)
}

func TestSchedulerFire_EnqueueErrorRecorded(t *testing.T) {
	s := newMockQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(s, "due", true, &past, nil)

	enq := &mockEnqueuer{err: context.DeadlineExceeded}
	sched := NewScheduler(s, enq, time.Minute, nil)
	sched.Tick(context.Background())

	got := schedule(s, "due")
	assert.Equal(t, "error", got.LastRunStatus)
	// next_run_at still advances so the schedule does not spin.
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestSchedulerFire_BadCronDisablesSchedule(t *testing.T) {
	s := newMockQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(s, "broken", true, &past, nil)
	s.mu.Lock()
	s.schedules["broken"].CronExpression = "not a cron"
	s.mu.Unlock()

	sched := NewScheduler(s, &mockEnqueuer{}, time.Minute, nil)
	sched.Tick(context.Background())

	got := schedule(s, "broken")
	assert.False(t, got.Enabled)
	assert.Equal(t, "error", got.LastRunStatus)
}

func TestSchedulerNextRun(t *testing.T) {
	sched := NewScheduler(newMockQueueStore(), &mockEnqueuer{}, time.Minute, nil)

	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := sched.NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = sched.NextRun("bogus", from)
	require.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	s := newMockQueueStore()
	past := time.Now().UTC().Add(-time.Minute)
	seedSchedule(s, "due", true, &past, nil)

	enq := &mockEnqueuer{}
	sched := NewScheduler(s, enq, 10*time.Millisecond, nil)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	require.Error(t, sched.Start(ctx))

	assert.Eventually(t, func() bool {
		enq.mu.Lock()
		defer enq.mu.Unlock()
		return len(enq.calls) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}
