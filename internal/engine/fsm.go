package engine

import (
	"github.com/stagekit/flowline/pkg/schema"
)

// validExecutionTransitions is the execution lifecycle state machine:
// pending → running → completed | failed. Terminal states have no exits.
var validExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending: {schema.ExecutionStatusRunning},
	schema.ExecutionStatusRunning: {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed},
}

// validActionTransitions is the per-node attempt state machine:
// in_progress → success | error | skipped.
var validActionTransitions = map[schema.ActionStatus][]schema.ActionStatus{
	schema.ActionStatusInProgress: {schema.ActionStatusSuccess, schema.ActionStatusError, schema.ActionStatusSkipped},
}

// CheckExecutionTransition validates an execution status transition.
func CheckExecutionTransition(from, to schema.ExecutionStatus) error {
	for _, allowed := range validExecutionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to)
}

// CheckActionTransition validates an action status transition.
func CheckActionTransition(from, to schema.ActionStatus) error {
	for _, allowed := range validActionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid action transition: %s -> %s", from, to)
}
