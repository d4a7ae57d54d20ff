package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stagekit/flowline/internal/store"
)

// DefaultScheduleInterval is how often the scheduler checks for due schedules.
const DefaultScheduleInterval = 60 * time.Second

// Enqueuer is the interface the scheduler uses to hand due runs to the
// queue. Satisfied by *Processor.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflowID string, input map[string]any) (string, error)
}

// Scheduler polls the store for due workflow schedules and enqueues an
// execution for each. A schedule fires at most once per due time: the
// in-flight set dedups within a tick and next_run_at is advanced from the
// cron expression after every attempt.
type Scheduler struct {
	store    store.Store
	enqueuer Enqueuer
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler with the standard five-field cron format.
func NewScheduler(s store.Store, enqueuer Enqueuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		enqueuer: enqueuer,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("schedule poller started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues an execution for every enabled schedule that is due.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	now := time.Now().UTC()
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled, DueBefore: &now})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list schedules", slog.String("error", err.Error()))
		return
	}

	for _, sched := range schedules {
		if !s.tryAcquire(sched.ID) {
			continue
		}
		if err := s.fire(ctx, sched, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to fire schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()))
		}
		s.release(sched.ID)
	}
}

// fire enqueues one execution for a due schedule and advances next_run_at.
func (s *Scheduler) fire(ctx context.Context, sched *store.Schedule, now time.Time) error {
	var params map[string]any
	status := "enqueued"

	if len(sched.Params) > 0 {
		if err := json.Unmarshal(sched.Params, &params); err != nil {
			status = "error"
			s.logger.ErrorContext(ctx, "schedule has invalid params",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()))
		}
	}

	if status != "error" {
		executionID, err := s.enqueuer.Enqueue(ctx, sched.WorkflowID, params)
		if err != nil {
			status = "error"
			s.logger.ErrorContext(ctx, "failed to enqueue scheduled run",
				slog.String("schedule_id", sched.ID),
				slog.String("workflow_id", sched.WorkflowID),
				slog.String("error", err.Error()))
		} else {
			s.logger.InfoContext(ctx, "scheduled run enqueued",
				slog.String("schedule_id", sched.ID),
				slog.String("execution_id", executionID))
		}
	}

	nextRun, err := s.NextRun(sched.CronExpression, now)
	if err != nil {
		// A broken cron expression would fire on every tick; disable it.
		disabled := false
		_ = s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
			Enabled:       &disabled,
			LastRunAt:     &now,
			LastRunStatus: "error",
		})
		return fmt.Errorf("next run for schedule %q: %w", sched.ID, err)
	}

	return s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduling loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("schedule poller stopped")
	return nil
}
