package store

import (
	"encoding/json"
	"time"

	"github.com/stagekit/flowline/pkg/schema"
)

// WorkflowRecord is the persisted form of a workflow definition.
type WorkflowRecord struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name,omitempty"`
	Definition schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// ExecutionRecord is one attempt to run a workflow definition with a
// specific input. Owned by the job queue processor for its lifecycle;
// read-only to everything else after creation.
type ExecutionRecord struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	Status       schema.ExecutionStatus `json:"status"`
	InputData    json.RawMessage        `json:"input_data,omitempty"`
	ResultData   json.RawMessage        `json:"result_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ActionLog is the audit entry for one node execution attempt within a run.
// Entries are never deleted; they are created in_progress and updated
// exactly once to a terminal status.
type ActionLog struct {
	ID           string              `json:"id"`
	ExecutionID  string              `json:"execution_id"`
	NodeID       string              `json:"node_id"`
	NodeType     schema.NodeType     `json:"node_type"`
	Action       string              `json:"action"`
	Status       schema.ActionStatus `json:"status"`
	Data         json.RawMessage     `json:"data,omitempty"` // node config snapshot
	ErrorMessage string              `json:"error_message,omitempty"`
	Sequence     int64               `json:"sequence"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// Schedule is a cron-triggered recurring enqueue of a workflow.
type Schedule struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Params         json.RawMessage `json:"params,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflow definitions.
type WorkflowFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution record.
type ExecutionUpdate struct {
	Status       *schema.ExecutionStatus `json:"status,omitempty"`
	ResultData   json.RawMessage         `json:"result_data,omitempty"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing execution records.
// OldestFirst orders by created_at ascending, which is how the processor
// claims pending work.
type ExecutionFilter struct {
	WorkflowID  string                  `json:"workflow_id,omitempty"`
	Status      *schema.ExecutionStatus `json:"status,omitempty"`
	Since       *time.Time              `json:"since,omitempty"`
	OldestFirst bool                    `json:"oldest_first,omitempty"`
	Limit       int                     `json:"limit,omitempty"`
}

// ActionLogUpdate carries the single terminal update an action log receives.
type ActionLogUpdate struct {
	Status       schema.ActionStatus `json:"status"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	WorkflowID string     `json:"workflow_id,omitempty"`
	Enabled    *bool      `json:"enabled,omitempty"`
	DueBefore  *time.Time `json:"due_before,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}
