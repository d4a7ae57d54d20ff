package flowline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/stagekit/flowline/internal/diagram"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/pkg/schema"
)

// ExecutionStatus is the monitoring view of one run: the record itself
// plus its audit trail ordered by sequence.
type ExecutionStatus struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Input       json.RawMessage        `json:"input,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Actions     []ActionEntry          `json:"actions,omitempty"`
}

// ActionEntry is one node attempt in an execution's audit trail.
type ActionEntry struct {
	NodeID      string              `json:"node_id"`
	NodeType    schema.NodeType     `json:"node_type"`
	Action      string              `json:"action"`
	Status      schema.ActionStatus `json:"status"`
	Error       string              `json:"error,omitempty"`
	Sequence    int64               `json:"sequence"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// ScheduleSpec describes a recurring enqueue of a workflow.
type ScheduleSpec struct {
	WorkflowID string         `json:"workflow_id"`
	Cron       string         `json:"cron"`
	Params     map[string]any `json:"params,omitempty"`
	Enabled    bool           `json:"enabled"`
}

// CreateWorkflow validates and stores a definition, assigning an id when
// the definition carries none. Structural or semantic errors reject the
// definition; unregistered-handler warnings do not.
func (s *Service) CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := s.validator.ValidateDefinition(def); err != nil {
		return "", err
	}
	rec := &store.WorkflowRecord{
		ID:         def.ID,
		Name:       def.Name,
		Definition: *def,
	}
	if err := s.store.CreateWorkflowDefinition(ctx, rec); err != nil {
		return "", err
	}
	return def.ID, nil
}

// GetWorkflow returns a stored definition by id.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	rec, err := s.store.GetWorkflowDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.Definition, nil
}

// DeleteWorkflow removes a stored definition. Executions already recorded
// against it are kept.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	return s.store.DeleteWorkflowDefinition(ctx, id)
}

// EnqueueExecution creates a pending run of a workflow and returns its
// execution id. The run is picked up by the next processor tick.
func (s *Service) EnqueueExecution(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	return s.processor.Enqueue(ctx, workflowID, input)
}

// GetExecutionStatus returns the current state of a run with its full
// audit trail.
func (s *Service) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	rec, logs, err := s.processor.GetStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	status := executionView(rec)
	status.Actions = make([]ActionEntry, 0, len(logs))
	for _, entry := range logs {
		status.Actions = append(status.Actions, ActionEntry{
			NodeID:      entry.NodeID,
			NodeType:    entry.NodeType,
			Action:      entry.Action,
			Status:      entry.Status,
			Error:       entry.ErrorMessage,
			Sequence:    entry.Sequence,
			StartedAt:   entry.StartedAt,
			CompletedAt: entry.CompletedAt,
		})
	}
	return status, nil
}

// ListExecutions returns runs of a workflow, newest first, optionally
// narrowed to one status. Audit trails are not loaded; use
// GetExecutionStatus for a single run's detail.
func (s *Service) ListExecutions(ctx context.Context, workflowID string, status schema.ExecutionStatus, limit int) ([]*ExecutionStatus, error) {
	filter := store.ExecutionFilter{WorkflowID: workflowID, Limit: limit}
	if status != "" {
		filter.Status = &status
	}
	recs, err := s.store.ListExecutions(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*ExecutionStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, executionView(rec))
	}
	return out, nil
}

// CreateSchedule stores a cron schedule for a workflow and returns its id.
// The cron expression is validated and the first due time computed up
// front, so a bad expression fails here rather than at tick time.
func (s *Service) CreateSchedule(ctx context.Context, spec ScheduleSpec) (string, error) {
	if _, err := s.store.GetWorkflowDefinition(ctx, spec.WorkflowID); err != nil {
		return "", err
	}
	next, err := s.scheduler.NextRun(spec.Cron, time.Now().UTC())
	if err != nil {
		return "", err
	}

	var params json.RawMessage
	if len(spec.Params) > 0 {
		params, err = json.Marshal(spec.Params)
		if err != nil {
			return "", schema.NewError(schema.ErrCodeValidation, "marshal schedule params").WithCause(err)
		}
	}

	sched := &store.Schedule{
		ID:             uuid.NewString(),
		WorkflowID:     spec.WorkflowID,
		CronExpression: spec.Cron,
		Params:         params,
		Enabled:        spec.Enabled,
		NextRunAt:      &next,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return "", err
	}
	return sched.ID, nil
}

// SetScheduleEnabled flips a schedule on or off.
func (s *Service) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.UpdateSchedule(ctx, id, store.ScheduleUpdate{Enabled: &enabled})
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}

// RenderWorkflow returns a Mermaid flowchart of a stored definition.
// A non-empty executionID overlays that run's node statuses.
func (s *Service) RenderWorkflow(ctx context.Context, workflowID, executionID string) (string, error) {
	rec, err := s.store.GetWorkflowDefinition(ctx, workflowID)
	if err != nil {
		return "", err
	}

	var actions []*store.ActionLog
	if executionID != "" {
		actions, err = s.store.ListActionLogs(ctx, executionID)
		if err != nil {
			return "", err
		}
	}

	model, err := diagram.Build(&rec.Definition, actions)
	if err != nil {
		return "", err
	}
	return diagram.RenderMermaid(model), nil
}

func executionView(rec *store.ExecutionRecord) *ExecutionStatus {
	return &ExecutionStatus{
		ExecutionID: rec.ID,
		WorkflowID:  rec.WorkflowID,
		Status:      rec.Status,
		Input:       rec.InputData,
		Result:      rec.ResultData,
		Error:       rec.ErrorMessage,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}
