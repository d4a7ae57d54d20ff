package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stagekit/flowline/internal/engine"
	"github.com/stagekit/flowline/internal/logging"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/internal/streaming"
	"github.com/stagekit/flowline/pkg/schema"
)

const (
	// DefaultPollInterval is how often the processor checks for pending work.
	DefaultPollInterval = 5 * time.Second
	// DefaultBatchSize caps how many records one tick claims.
	DefaultBatchSize = 10
)

// Runner executes one claimed workflow run. Satisfied by *engine.Executor.
type Runner interface {
	Execute(ctx context.Context, executionID string, def *schema.WorkflowDefinition, input map[string]any) (*engine.Result, error)
}

// Finalizer applies the terminal update to an execution record.
// Satisfied by *store.ExecLog.
type Finalizer interface {
	MarkExecutionCompleted(ctx context.Context, executionID string, result []byte) error
	MarkExecutionFailed(ctx context.Context, executionID, errMsg string, result []byte) error
}

// Config holds processor tuning knobs.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Processor is the durable job queue: it accepts execution requests as
// pending records and drains them with a single polling loop. Records are
// claimed atomically and processed sequentially within a tick, so a given
// execution runs at most once.
type Processor struct {
	store     store.Store
	runner    Runner
	finalizer Finalizer
	config    Config
	logger    *slog.Logger
	events    streaming.EventHub

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// ticking guards against overlapping ticks if a run outlasts the
	// poll interval.
	ticking atomic.Bool
}

// NewProcessor creates a Processor.
func NewProcessor(s store.Store, runner Runner, finalizer Finalizer, cfg Config, logger *slog.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     s,
		runner:    runner,
		finalizer: finalizer,
		config:    cfg,
		logger:    logger,
	}
}

// SetEventHub installs an optional hub that receives execution lifecycle
// events. Call before Start.
func (p *Processor) SetEventHub(hub streaming.EventHub) {
	p.events = hub
}

func (p *Processor) publish(ctx context.Context, executionID, workflowID, eventType string, payload any) {
	if p.events == nil {
		return
	}
	_ = p.events.Publish(ctx, streaming.ExecutionEvent{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Type:        eventType,
		Payload:     payload,
	})
}

// Enqueue validates the workflow exists and creates a pending execution
// record. The returned id can be polled with GetStatus; the record is
// picked up by the next tick.
func (p *Processor) Enqueue(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	if _, err := p.store.GetWorkflowDefinition(ctx, workflowID); err != nil {
		return "", err
	}

	var inputData json.RawMessage
	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("marshal execution input: %w", err)
		}
		inputData = data
	}

	rec := &store.ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     schema.ExecutionStatusPending,
		InputData:  inputData,
	}
	if err := p.store.CreateExecution(ctx, rec); err != nil {
		return "", err
	}

	p.logger.InfoContext(ctx, "execution enqueued",
		slog.String("execution_id", rec.ID),
		slog.String("workflow_id", workflowID))
	p.publish(ctx, rec.ID, workflowID, streaming.EventExecutionEnqueued, nil)
	return rec.ID, nil
}

// GetStatus returns the execution record together with its audit trail.
func (p *Processor) GetStatus(ctx context.Context, executionID string) (*store.ExecutionRecord, []*store.ActionLog, error) {
	rec, err := p.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	logs, err := p.store.ListActionLogs(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	return rec, logs, nil
}

// Start launches the background polling loop.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return fmt.Errorf("processor already started")
	}

	procCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.loop(procCtx)
	p.logger.Info("queue processor started",
		slog.Duration("poll_interval", p.config.PollInterval),
		slog.Int("batch_size", p.config.BatchSize))
	return nil
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick claims and processes one batch of pending executions. If a previous
// tick is still running, it returns immediately. When the store is not
// reachable the tick drains nothing: degraded mode claims no work rather
// than claiming work it cannot finish.
func (p *Processor) Tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		return
	}
	defer p.ticking.Store(false)

	if err := p.store.Ping(ctx); err != nil {
		p.logger.WarnContext(ctx, "store unreachable, skipping tick", slog.String("error", err.Error()))
		return
	}

	pending := schema.ExecutionStatusPending
	records, err := p.store.ListExecutions(ctx, store.ExecutionFilter{
		Status:      &pending,
		OldestFirst: true,
		Limit:       p.config.BatchSize,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list pending executions", slog.String("error", err.Error()))
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		// One bad record never blocks the rest of the batch.
		p.process(ctx, rec)
	}
}

// process claims one record and runs it to a terminal state.
func (p *Processor) process(ctx context.Context, rec *store.ExecutionRecord) {
	ctx = logging.WithIDs(ctx, rec.WorkflowID, rec.ID, "")
	log := logging.LogWith(ctx, p.logger)

	claimed, err := p.store.ClaimExecution(ctx, rec.ID, time.Now().UTC())
	if err != nil {
		log.ErrorContext(ctx, "failed to claim execution", slog.String("error", err.Error()))
		return
	}
	if !claimed {
		// Someone else got it, or it is no longer pending.
		return
	}
	p.publish(ctx, rec.ID, rec.WorkflowID, streaming.EventExecutionStarted, nil)

	// Snapshot the definition at claim time. Edits to the stored workflow
	// after this point never affect this run.
	wf, err := p.store.GetWorkflowDefinition(ctx, rec.WorkflowID)
	if err != nil {
		p.finalize(ctx, rec, schema.ExecutionStatusFailed, nil, fmt.Sprintf("load workflow %s: %v", rec.WorkflowID, err))
		return
	}
	def := wf.Definition

	var input map[string]any
	if len(rec.InputData) > 0 {
		if err := json.Unmarshal(rec.InputData, &input); err != nil {
			p.finalize(ctx, rec, schema.ExecutionStatusFailed, nil, fmt.Sprintf("decode execution input: %v", err))
			return
		}
	}

	result, runErr := p.runner.Execute(ctx, rec.ID, &def, input)

	var resultData []byte
	if result != nil && len(result.Outputs) > 0 {
		if data, err := result.Marshal(); err == nil {
			resultData = data
		} else {
			log.ErrorContext(ctx, "failed to marshal run outputs", slog.String("error", err.Error()))
		}
	}

	switch {
	case runErr != nil:
		p.finalize(ctx, rec, schema.ExecutionStatusFailed, resultData, runErr.Error())
	case result.Status == schema.ExecutionStatusFailed:
		msg := "workflow run failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		p.finalize(ctx, rec, schema.ExecutionStatusFailed, resultData, msg)
	default:
		p.finalize(ctx, rec, schema.ExecutionStatusCompleted, resultData, "")
	}
}

// finalize writes the terminal status. The record was claimed by this
// processor, so it is in running state.
func (p *Processor) finalize(ctx context.Context, rec *store.ExecutionRecord, status schema.ExecutionStatus, result []byte, errMsg string) {
	log := logging.LogWith(ctx, p.logger)

	if err := engine.CheckExecutionTransition(schema.ExecutionStatusRunning, status); err != nil {
		log.ErrorContext(ctx, "refusing execution finalization", slog.String("error", err.Error()))
		return
	}

	var err error
	if status == schema.ExecutionStatusCompleted {
		err = p.finalizer.MarkExecutionCompleted(ctx, rec.ID, result)
	} else {
		err = p.finalizer.MarkExecutionFailed(ctx, rec.ID, errMsg, result)
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to finalize execution",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return
	}

	if status == schema.ExecutionStatusFailed {
		log.WarnContext(ctx, "execution failed", slog.String("error", errMsg))
		p.publish(ctx, rec.ID, rec.WorkflowID, streaming.EventExecutionFailed, errMsg)
	} else {
		log.InfoContext(ctx, "execution completed")
		p.publish(ctx, rec.ID, rec.WorkflowID, streaming.EventExecutionCompleted, nil)
	}
}

// Stop gracefully shuts down the polling loop, waiting for an in-flight
// tick to finish.
func (p *Processor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return nil
	}

	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil

	p.logger.Info("queue processor stopped")
	return nil
}
