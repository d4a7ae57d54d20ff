package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions
	CreateWorkflowDefinition(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflowDefinition(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflowDefinitions(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error)
	DeleteWorkflowDefinition(ctx context.Context, id string) error

	// Execution records
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	// ClaimExecution atomically transitions a pending record to running.
	// Returns false when the record was not pending (already claimed or
	// terminal), which makes re-entrant poll ticks harmless.
	ClaimExecution(ctx context.Context, id string, startedAt time.Time) (bool, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// Action logs (append-mostly audit trail)
	InsertActionLog(ctx context.Context, entry *ActionLog) error
	UpdateActionLog(ctx context.Context, id string, update ActionLogUpdate) error
	ListActionLogs(ctx context.Context, executionID string) ([]*ActionLog, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
