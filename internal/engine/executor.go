package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dario.cat/mergo"

	"github.com/stagekit/flowline/internal/graph"
	"github.com/stagekit/flowline/internal/handlers"
	"github.com/stagekit/flowline/internal/logging"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/pkg/schema"
)

// ActionLogger abstracts the audit-trail operations the executor needs.
// Satisfied by *store.ExecLog and test mocks.
type ActionLogger interface {
	LogAction(ctx context.Context, entry *store.ActionLog) (string, error)
	FinishAction(ctx context.Context, id string, status schema.ActionStatus, errMsg string) error
}

// Result is the outcome of a single workflow run.
type Result struct {
	ExecutionID string
	Status      schema.ExecutionStatus
	// Outputs maps node id to the data its handler produced. Skipped and
	// failed nodes have no entry.
	Outputs map[string]map[string]any
	// NodeStatus records the terminal action status of every node.
	NodeStatus map[string]schema.ActionStatus
	// Err carries the failure reason when Status is failed.
	Err *schema.FlowError
}

// Marshal returns the output map as JSON for persistence as result data.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r.Outputs)
}

// Executor runs one workflow definition to completion. Nodes are executed
// sequentially in dependency order; a node runs only after every node it
// depends on has finished. The executor never partially records an attempt:
// each node gets an in_progress audit entry before its handler runs and
// exactly one terminal update after.
type Executor struct {
	registry   *handlers.Registry
	actionLog  ActionLogger
	conditions *ConditionEvaluator
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(registry *handlers.Registry, actionLog ActionLogger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		actionLog:  actionLog,
		conditions: NewConditionEvaluator(),
		logger:     logger,
	}
}

// Execute runs the definition snapshot against the given input. Structural
// problems (cycles, dangling edges, no eligible nodes) fail the run before
// any node executes. Handler errors mark the node's audit entry as error and
// skip its dependents; whether they fail the run depends on the definition's
// declared outputs. An audit-trail write failure aborts the run.
func (e *Executor) Execute(ctx context.Context, executionID string, def *schema.WorkflowDefinition, input map[string]any) (*Result, error) {
	ctx = logging.WithIDs(ctx, def.ID, executionID, "")
	log := logging.LogWith(ctx, e.logger)

	result := &Result{
		ExecutionID: executionID,
		Outputs:     make(map[string]map[string]any),
		NodeStatus:  make(map[string]schema.ActionStatus),
	}

	g, err := graph.Build(def)
	if err != nil {
		result.Status = schema.ExecutionStatusFailed
		result.Err = asFlowError(err)
		return result, err
	}

	log.InfoContext(ctx, "starting workflow run", "nodes", len(g.Nodes))

	finished := make(map[string]bool, len(g.Nodes))

	for len(finished) < len(g.Nodes) {
		if err := ctx.Err(); err != nil {
			ferr := schema.NewErrorf(schema.ErrCodeStore, "run aborted: %v", err).WithCause(err)
			result.Status = schema.ExecutionStatusFailed
			result.Err = ferr
			return result, ferr
		}

		ready := g.Ready(finished)
		if len(ready) == 0 {
			// Build rules out cycles, so an empty ready set with work
			// remaining means the resolver itself is broken.
			ferr := schema.NewErrorf(schema.ErrCodeStructural,
				"no executable nodes but %d remain", len(g.Nodes)-len(finished))
			result.Status = schema.ExecutionStatusFailed
			result.Err = ferr
			return result, ferr
		}

		for _, nodeID := range ready {
			status, err := e.runNode(ctx, executionID, g, g.Nodes[nodeID], input, result)
			if err != nil {
				// Audit-trail failures are infrastructure errors: the run
				// cannot continue without a trustworthy log.
				result.Status = schema.ExecutionStatusFailed
				result.Err = asFlowError(err)
				return result, err
			}
			finished[nodeID] = true
			result.NodeStatus[nodeID] = status

			if status != schema.ActionStatusSuccess {
				// Everything downstream of a failed or skipped node is
				// finalized as skipped without running its handler.
				for _, desc := range g.Descendants(nodeID) {
					if finished[desc] {
						continue
					}
					reason := fmt.Sprintf("upstream node %s finished with status %s", nodeID, status)
					if err := e.skipNode(ctx, executionID, g.Nodes[desc], reason); err != nil {
						result.Status = schema.ExecutionStatusFailed
						result.Err = asFlowError(err)
						return result, err
					}
					finished[desc] = true
					result.NodeStatus[desc] = schema.ActionStatusSkipped
				}
			}
		}
	}

	// The run fails only when a declared output node did not succeed.
	// Definitions without declared outputs tolerate node-level errors.
	for _, out := range def.Outputs {
		if result.NodeStatus[out] != schema.ActionStatusSuccess {
			ferr := schema.NewErrorf(schema.ErrCodeHandler,
				"required output node %s finished with status %s", out, result.NodeStatus[out]).
				WithNode(out)
			result.Status = schema.ExecutionStatusFailed
			result.Err = ferr
			log.WarnContext(ctx, "workflow run failed", "reason", ferr.Message)
			return result, nil
		}
	}

	result.Status = schema.ExecutionStatusCompleted
	log.InfoContext(ctx, "workflow run completed", "succeeded", countStatus(result.NodeStatus, schema.ActionStatusSuccess),
		"skipped", countStatus(result.NodeStatus, schema.ActionStatusSkipped),
		"errored", countStatus(result.NodeStatus, schema.ActionStatusError))
	return result, nil
}

// runNode executes a single node end to end: payload assembly, condition
// guard, audit entry, handler dispatch, terminal update. The returned error
// is non-nil only for infrastructure failures; handler errors surface in
// the returned action status.
func (e *Executor) runNode(ctx context.Context, executionID string, g *graph.Graph, node *schema.Node, input map[string]any, result *Result) (schema.ActionStatus, error) {
	ctx = logging.WithNodeID(ctx, node.ID)
	log := logging.LogWith(ctx, e.logger)

	payload, err := e.buildPayload(g, node, input, result.Outputs)
	if err != nil {
		return e.finalize(ctx, executionID, node, schema.ActionStatusError, err.Error())
	}

	if node.Condition != "" {
		env := map[string]any{
			"input":   input,
			"nodes":   anyOutputs(result.Outputs),
			"payload": payload,
		}
		pass, err := e.conditions.EvaluateBool(ctx, node.Condition, env)
		if err != nil {
			log.WarnContext(ctx, "condition evaluation failed", "error", err)
			return e.finalize(ctx, executionID, node, schema.ActionStatusError, err.Error())
		}
		if !pass {
			log.DebugContext(ctx, "condition not met, skipping node", "condition", node.Condition)
			return e.finalize(ctx, executionID, node, schema.ActionStatusSkipped, "condition not met")
		}
	}

	handler, err := e.registry.Get(node.Type)
	if err != nil {
		return e.finalize(ctx, executionID, node, schema.ActionStatusError, err.Error())
	}

	logID, err := e.actionLog.LogAction(ctx, &store.ActionLog{
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Action:      handler.Action(),
		Status:      schema.ActionStatusInProgress,
		Data:        node.Config,
	})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "log action for node %s: %v", node.ID, err).
			WithNode(node.ID).WithCause(err)
	}

	out, execErr := handler.Execute(ctx, handlers.Input{
		ExecutionID: executionID,
		WorkflowID:  logging.WorkflowID(ctx),
		Node:        node,
		Payload:     payload,
	})
	if execErr != nil {
		log.WarnContext(ctx, "node handler failed", "action", handler.Action(), "error", execErr)
		if err := e.actionLog.FinishAction(ctx, logID, schema.ActionStatusError, execErr.Error()); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeStore, "finish action for node %s: %v", node.ID, err).
				WithNode(node.ID).WithCause(err)
		}
		return schema.ActionStatusError, nil
	}

	if err := e.actionLog.FinishAction(ctx, logID, schema.ActionStatusSuccess, ""); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "finish action for node %s: %v", node.ID, err).
			WithNode(node.ID).WithCause(err)
	}

	if out != nil && out.Data != nil {
		result.Outputs[node.ID] = out.Data
	} else {
		result.Outputs[node.ID] = map[string]any{}
	}
	log.DebugContext(ctx, "node completed", "action", handler.Action())
	return schema.ActionStatusSuccess, nil
}

// finalize records a node attempt that never reached its handler (skipped
// by condition or cascade, payload error, missing handler) as a single
// audit entry created and closed in one breath.
func (e *Executor) finalize(ctx context.Context, executionID string, node *schema.Node, status schema.ActionStatus, msg string) (schema.ActionStatus, error) {
	logID, err := e.actionLog.LogAction(ctx, &store.ActionLog{
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Action:      handlers.ActionFor(node.Type),
		Status:      schema.ActionStatusInProgress,
		Data:        node.Config,
	})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "log action for node %s: %v", node.ID, err).
			WithNode(node.ID).WithCause(err)
	}
	errMsg := ""
	if status != schema.ActionStatusSuccess {
		errMsg = msg
	}
	if err := e.actionLog.FinishAction(ctx, logID, status, errMsg); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "finish action for node %s: %v", node.ID, err).
			WithNode(node.ID).WithCause(err)
	}
	return status, nil
}

func (e *Executor) skipNode(ctx context.Context, executionID string, node *schema.Node, reason string) error {
	ctx = logging.WithNodeID(ctx, node.ID)
	logging.LogWith(ctx, e.logger).DebugContext(ctx, "skipping node", "reason", reason)
	_, err := e.finalize(ctx, executionID, node, schema.ActionStatusSkipped, reason)
	return err
}

// buildPayload assembles the handler payload: node config first, then the
// run input, then each finished upstream output in deterministic order.
// Later sources win on key conflicts.
func (e *Executor) buildPayload(g *graph.Graph, node *schema.Node, input map[string]any, outputs map[string]map[string]any) (map[string]any, error) {
	payload := make(map[string]any)

	if len(node.Config) > 0 {
		var cfg map[string]any
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"node %s has non-object config: %v", node.ID, err).WithNode(node.ID)
		}
		if err := mergo.Merge(&payload, cfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge node config: %w", err)
		}
	}

	if len(input) > 0 {
		if err := mergo.Merge(&payload, input, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge run input: %w", err)
		}
	}

	// Upstream outputs are merged in the graph's deterministic order so
	// conflicting keys resolve the same way on every run.
	for _, upID := range g.Sorted {
		if !contains(g.Upstream[node.ID], upID) {
			continue
		}
		if out, ok := outputs[upID]; ok {
			if err := mergo.Merge(&payload, out, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merge output of %s: %w", upID, err)
			}
		}
	}

	return payload, nil
}

func anyOutputs(outputs map[string]map[string]any) map[string]any {
	m := make(map[string]any, len(outputs))
	for k, v := range outputs {
		m[k] = v
	}
	return m
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func countStatus(m map[string]schema.ActionStatus, want schema.ActionStatus) int {
	n := 0
	for _, s := range m {
		if s == want {
			n++
		}
	}
	return n
}

func asFlowError(err error) *schema.FlowError {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%v", err).WithCause(err)
}
