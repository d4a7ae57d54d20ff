package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagekit/flowline/internal/engine"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/internal/streaming"
	"github.com/stagekit/flowline/pkg/schema"
)

// mockQueueStore satisfies store.Store for queue tests.
type mockQueueStore struct {
	store.Store
	mu         sync.Mutex
	workflows  map[string]*store.WorkflowRecord
	executions map[string]*store.ExecutionRecord
	schedules  map[string]*store.Schedule
	logs       map[string][]*store.ActionLog
	pingErr    error
	claimErr   error
}

func newMockQueueStore() *mockQueueStore {
	return &mockQueueStore{
		workflows:  make(map[string]*store.WorkflowRecord),
		executions: make(map[string]*store.ExecutionRecord),
		schedules:  make(map[string]*store.Schedule),
		logs:       make(map[string][]*store.ActionLog),
	}
}

func (m *mockQueueStore) Ping(_ context.Context) error { return m.pingErr }

func (m *mockQueueStore) GetWorkflowDefinition(_ context.Context, id string) (*store.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *mockQueueStore) CreateExecution(_ context.Context, rec *store.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.executions[rec.ID] = &cp
	return nil
}

func (m *mockQueueStore) GetExecution(_ context.Context, id string) (*store.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.executions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockQueueStore) ClaimExecution(_ context.Context, id string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	rec, ok := m.executions[id]
	if !ok || rec.Status != schema.ExecutionStatusPending {
		return false, nil
	}
	rec.Status = schema.ExecutionStatusRunning
	rec.StartedAt = &startedAt
	return true, nil
}

func (m *mockQueueStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*store.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ExecutionRecord
	for _, rec := range m.executions {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if filter.OldestFirst {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockQueueStore) ListActionLogs(_ context.Context, executionID string) ([]*store.ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[executionID], nil
}

func (m *mockQueueStore) ListSchedules(_ context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Schedule
	for _, sched := range m.schedules {
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		if filter.DueBefore != nil && sched.NextRunAt != nil && sched.NextRunAt.After(*filter.DueBefore) {
			continue
		}
		cp := *sched
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockQueueStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if update.Enabled != nil {
		sched.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		sched.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		sched.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		sched.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockQueueStore) seedWorkflow(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[id] = &store.WorkflowRecord{
		ID: id,
		Definition: schema.WorkflowDefinition{
			ID:    id,
			Nodes: []schema.Node{{ID: "only", Type: schema.NodeTypeTask}},
		},
	}
}

func (m *mockQueueStore) execution(id string) *store.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.executions[id]
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

// mockRunner records executions and returns canned results.
type mockRunner struct {
	mu     sync.Mutex
	ran    []string
	result *engine.Result
	err    error
}

func (r *mockRunner) Execute(_ context.Context, executionID string, def *schema.WorkflowDefinition, _ map[string]any) (*engine.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, executionID)
	if r.err != nil {
		return &engine.Result{ExecutionID: executionID, Status: schema.ExecutionStatusFailed}, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &engine.Result{
		ExecutionID: executionID,
		Status:      schema.ExecutionStatusCompleted,
		Outputs:     map[string]map[string]any{"only": {"ok": true}},
	}, nil
}

// memFinalizer applies terminal updates to the mock store directly.
type memFinalizer struct {
	s *mockQueueStore
}

func (f *memFinalizer) MarkExecutionCompleted(_ context.Context, executionID string, result []byte) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	rec := f.s.executions[executionID]
	rec.Status = schema.ExecutionStatusCompleted
	rec.ResultData = result
	return nil
}

func (f *memFinalizer) MarkExecutionFailed(_ context.Context, executionID, errMsg string, result []byte) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	rec := f.s.executions[executionID]
	rec.Status = schema.ExecutionStatusFailed
	rec.ErrorMessage = errMsg
	rec.ResultData = result
	return nil
}

func newTestProcessor(s *mockQueueStore, r *mockRunner) *Processor {
	return NewProcessor(s, r, &memFinalizer{s: s}, Config{PollInterval: 10 * time.Millisecond, BatchSize: 10}, nil)
}

// --- tests ---

func TestEnqueue_CreatesPendingRecord(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	p := newTestProcessor(s, &mockRunner{})

	id, err := p.Enqueue(context.Background(), "wf-1", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec := s.execution(id)
	require.NotNil(t, rec)
	assert.Equal(t, schema.ExecutionStatusPending, rec.Status)
	assert.JSONEq(t, `{"k":"v"}`, string(rec.InputData))
}

func TestEnqueue_UnknownWorkflow(t *testing.T) {
	p := newTestProcessor(newMockQueueStore(), &mockRunner{})
	_, err := p.Enqueue(context.Background(), "ghost", nil)
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestTick_ProcessesOldestFirst(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	old := &store.ExecutionRecord{ID: "e-old", WorkflowID: "wf-1", Status: schema.ExecutionStatusPending, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	recent := &store.ExecutionRecord{ID: "e-new", WorkflowID: "wf-1", Status: schema.ExecutionStatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateExecution(ctx, recent))
	require.NoError(t, s.CreateExecution(ctx, old))

	p.Tick(ctx)

	assert.Equal(t, []string{"e-old", "e-new"}, r.ran)
	assert.Equal(t, schema.ExecutionStatusCompleted, s.execution("e-old").Status)
	assert.Equal(t, schema.ExecutionStatusCompleted, s.execution("e-new").Status)
	assert.JSONEq(t, `{"only":{"ok":true}}`, string(s.execution("e-old").ResultData))
}

func TestTick_FailedRunMarksFailed(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{err: errors.New("cycle detected")}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	p.Tick(ctx)

	var rec *store.ExecutionRecord
	for id := range s.executions {
		rec = s.execution(id)
	}
	require.NotNil(t, rec)
	assert.Equal(t, schema.ExecutionStatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "cycle detected")
}

func TestTick_FailsClosedWhenStoreUnreachable(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	id, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	s.pingErr = errors.New("database locked")
	p.Tick(ctx)

	// Nothing claimed, nothing run.
	assert.Empty(t, r.ran)
	assert.Equal(t, schema.ExecutionStatusPending, s.execution(id).Status)

	// Store recovers; next tick drains.
	s.pingErr = nil
	p.Tick(ctx)
	assert.Equal(t, []string{id}, r.ran)
}

func TestTick_ReentrancyGuard(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	id, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	p.ticking.Store(true)
	p.Tick(ctx)
	assert.Empty(t, r.ran)

	p.ticking.Store(false)
	p.Tick(ctx)
	assert.Equal(t, []string{id}, r.ran)
}

func TestTick_AlreadyClaimedRecordSkipped(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	rec := &store.ExecutionRecord{ID: "e-1", WorkflowID: "wf-1", Status: schema.ExecutionStatusRunning}
	require.NoError(t, s.CreateExecution(ctx, rec))

	p.Tick(ctx)
	assert.Empty(t, r.ran)
}

func TestTick_MissingWorkflowFailsRecordOnly(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-ok")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	orphan := &store.ExecutionRecord{ID: "e-orphan", WorkflowID: "wf-gone", Status: schema.ExecutionStatusPending, CreatedAt: time.Now().UTC().Add(-time.Minute)}
	require.NoError(t, s.CreateExecution(ctx, orphan))
	healthy, err := p.Enqueue(ctx, "wf-ok", nil)
	require.NoError(t, err)

	p.Tick(ctx)

	assert.Equal(t, schema.ExecutionStatusFailed, s.execution("e-orphan").Status)
	assert.Contains(t, s.execution("e-orphan").ErrorMessage, "wf-gone")
	assert.Equal(t, schema.ExecutionStatusCompleted, s.execution(healthy).Status)
}

func TestGetStatus(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	p := newTestProcessor(s, &mockRunner{})
	ctx := context.Background()

	id, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)
	s.mu.Lock()
	s.logs[id] = []*store.ActionLog{{ID: "log-1", ExecutionID: id, NodeID: "only", Sequence: 1}}
	s.mu.Unlock()

	rec, logs, err := p.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "only", logs[0].NodeID)
}

func TestStartStop(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	id, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(ctx))
	require.Error(t, p.Start(ctx)) // double start

	assert.Eventually(t, func() bool {
		rec := s.execution(id)
		return rec != nil && rec.Status == schema.ExecutionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop()) // idempotent

	// Restart works after a clean stop.
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Stop())
}

func TestProcess_DecodesInput(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	var gotInput map[string]any
	r := &mockRunner{}
	p := NewProcessor(s, runnerFunc(func(_ context.Context, executionID string, _ *schema.WorkflowDefinition, input map[string]any) (*engine.Result, error) {
		gotInput = input
		return r.Execute(context.Background(), executionID, nil, input)
	}), &memFinalizer{s: s}, Config{}, nil)
	ctx := context.Background()

	_, err := p.Enqueue(ctx, "wf-1", map[string]any{"customerEmail": "a@b.c"})
	require.NoError(t, err)
	p.Tick(ctx)

	require.NotNil(t, gotInput)
	assert.Equal(t, "a@b.c", gotInput["customerEmail"])
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, executionID string, def *schema.WorkflowDefinition, input map[string]any) (*engine.Result, error)

func (f runnerFunc) Execute(ctx context.Context, executionID string, def *schema.WorkflowDefinition, input map[string]any) (*engine.Result, error) {
	return f(ctx, executionID, def, input)
}

func TestProcess_CorruptInputFailsRecord(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	r := &mockRunner{}
	p := newTestProcessor(s, r)
	ctx := context.Background()

	rec := &store.ExecutionRecord{
		ID:         "e-bad",
		WorkflowID: "wf-1",
		Status:     schema.ExecutionStatusPending,
		InputData:  json.RawMessage(`{not json`),
	}
	require.NoError(t, s.CreateExecution(ctx, rec))

	p.Tick(ctx)

	assert.Empty(t, r.ran)
	assert.Equal(t, schema.ExecutionStatusFailed, s.execution("e-bad").Status)
}

func TestTick_PublishesLifecycleEvents(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	p := newTestProcessor(s, &mockRunner{})
	ctx := context.Background()

	hub := streaming.NewMemoryHub()
	p.SetEventHub(hub)
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	defer cancel()

	execID, err := p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	p.Tick(ctx)

	var types []string
	for len(ch) > 0 {
		e := <-ch
		assert.Equal(t, execID, e.ExecutionID)
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		streaming.EventExecutionEnqueued,
		streaming.EventExecutionStarted,
		streaming.EventExecutionCompleted,
	}, types)
}

func TestTick_PublishesFailureEvent(t *testing.T) {
	s := newMockQueueStore()
	s.seedWorkflow("wf-1")
	p := newTestProcessor(s, &mockRunner{err: errors.New("handler blew up")})
	ctx := context.Background()

	hub := streaming.NewMemoryHub()
	p.SetEventHub(hub)
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		Types: []string{streaming.EventExecutionFailed},
	})
	require.NoError(t, err)
	defer cancel()

	_, err = p.Enqueue(ctx, "wf-1", nil)
	require.NoError(t, err)

	p.Tick(ctx)

	require.Len(t, ch, 1)
	e := <-ch
	assert.Equal(t, streaming.EventExecutionFailed, e.Type)
	assert.Contains(t, e.Payload.(string), "handler blew up")
}
