package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagekit/flowline/pkg/schema"
)

// ExecLog provides the append-mostly audit trail on top of a LibSQLStore.
// Each node execution attempt produces exactly one entry: created as
// in_progress before the handler runs, updated exactly once to a terminal
// status afterwards.
type ExecLog struct {
	store *LibSQLStore
}

// NewExecLog wraps a LibSQLStore to provide action-log operations.
func NewExecLog(s *LibSQLStore) *ExecLog {
	return &ExecLog{store: s}
}

// LogAction records the start of a node execution attempt with a
// monotonically increasing per-execution sequence. Uses an immediate-mode
// write inside the transaction to ensure sequence correctness under
// concurrency, and returns the assigned log entry id.
func (el *ExecLog) LogAction(ctx context.Context, entry *ActionLog) (string, error) {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction.
	// Execute a write-intent statement to force write-lock acquisition
	// before reading the current max sequence.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return "", fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return "", fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_action_logs WHERE execution_id = ?`,
		entry.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("get next sequence: %w", err)
	}
	entry.Sequence = seq

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = schema.ActionStatusInProgress
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_action_logs (id, execution_id, node_id, node_type, action, status, data, error_message, sequence, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ExecutionID, entry.NodeID, string(entry.NodeType), entry.Action,
		string(entry.Status), nullRaw(entry.Data), nullStr(entry.ErrorMessage),
		seq, entry.StartedAt, nullTime(entry.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert action log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit action log: %w", err)
	}
	return entry.ID, nil
}

// FinishAction applies the single terminal update to an in-progress entry.
func (el *ExecLog) FinishAction(ctx context.Context, id string, status schema.ActionStatus, errMsg string) error {
	if !status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"action log %q cannot be finished with non-terminal status %q", id, status)
	}
	return el.store.UpdateActionLog(ctx, id, ActionLogUpdate{
		Status:       status,
		ErrorMessage: errMsg,
	})
}

// MarkExecutionCompleted finalizes an execution with its aggregated result.
func (el *ExecLog) MarkExecutionCompleted(ctx context.Context, executionID string, result []byte) error {
	now := time.Now().UTC()
	status := schema.ExecutionStatusCompleted
	return el.store.UpdateExecution(ctx, executionID, ExecutionUpdate{
		Status:      &status,
		ResultData:  result,
		CompletedAt: &now,
	})
}

// MarkExecutionFailed finalizes an execution with a human-readable error
// message. Partial results are preserved when provided.
func (el *ExecLog) MarkExecutionFailed(ctx context.Context, executionID, errMsg string, result []byte) error {
	now := time.Now().UTC()
	status := schema.ExecutionStatusFailed
	return el.store.UpdateExecution(ctx, executionID, ExecutionUpdate{
		Status:       &status,
		ResultData:   result,
		ErrorMessage: &errMsg,
		CompletedAt:  &now,
	})
}

// History returns the full ordered audit trail of an execution.
func (el *ExecLog) History(ctx context.Context, executionID string) ([]*ActionLog, error) {
	return el.store.ListActionLogs(ctx, executionID)
}
