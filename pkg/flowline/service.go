package flowline

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/stagekit/flowline/internal/engine"
	"github.com/stagekit/flowline/internal/handlers"
	"github.com/stagekit/flowline/internal/logging"
	"github.com/stagekit/flowline/internal/queue"
	"github.com/stagekit/flowline/internal/secrets"
	"github.com/stagekit/flowline/internal/store"
	"github.com/stagekit/flowline/internal/streaming"
	"github.com/stagekit/flowline/internal/validation"
	"github.com/stagekit/flowline/pkg/schema"
)

// Config holds everything needed to assemble a Service.
type Config struct {
	// DBPath is the libSQL database file. Required.
	DBPath string

	// PollInterval is how often the queue processor checks for pending
	// executions. Zero uses the processor default.
	PollInterval time.Duration

	// ScheduleInterval is how often due cron schedules are checked.
	// Zero uses the scheduler default.
	ScheduleInterval time.Duration

	// BatchSize caps how many pending executions one poll tick claims.
	// Zero uses the processor default.
	BatchSize int

	// Collaborators provide the business services behind the built-in
	// node handlers. Nil fields leave those node types unregistered.
	Collaborators Collaborators

	// VaultMasterKey enables the credentials vault with a raw 32-byte
	// key. Alternatively set VaultPassphrase and VaultSalt to derive one.
	// All empty disables the vault; the secret operations then error.
	VaultMasterKey  []byte
	VaultPassphrase string
	VaultSalt       []byte

	// Logger receives structured engine logs. Nil installs a JSON
	// logger on stderr with correlation ids from context.
	Logger *slog.Logger
}

// Service is the embeddable workflow engine: definition storage and
// validation, a durable execution queue, cron scheduling, and per-node
// audit trails behind one handle.
type Service struct {
	store     *store.LibSQLStore
	execLog   *store.ExecLog
	registry  *handlers.Registry
	callbacks *handlers.CallbackRegistry
	validator *validation.WorkflowValidator
	executor  *engine.Executor
	processor *queue.Processor
	scheduler *queue.Scheduler
	events    *streaming.MemoryHub
	vault     secrets.Vault
	logger    *slog.Logger
}

// New opens the store, runs migrations and wires the engine. The returned
// Service is idle until Start is called; Enqueue and the read operations
// work immediately.
func New(cfg Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		handler := logging.NewCorrelationHandler(slog.NewJSONHandler(os.Stderr, nil))
		logger = slog.New(handler)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	registry := handlers.NewRegistry()
	callbacks := handlers.NewCallbackRegistry()
	if err := handlers.RegisterBuiltins(registry, handlers.Collaborators{
		Records:    cfg.Collaborators.Records,
		Messages:   cfg.Collaborators.Messages,
		Automation: cfg.Collaborators.Automation,
		Vision:     cfg.Collaborators.Vision,
		Social:     cfg.Collaborators.Social,
	}); err != nil {
		st.Close()
		return nil, err
	}
	if err := registry.Register(handlers.NewCustomHandler(callbacks)); err != nil {
		st.Close()
		return nil, err
	}

	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		st.Close()
		return nil, err
	}

	var vault secrets.Vault
	if len(cfg.VaultMasterKey) > 0 || cfg.VaultPassphrase != "" {
		vault, err = secrets.NewAESVault(st, secrets.VaultConfig{
			MasterKey:  cfg.VaultMasterKey,
			Passphrase: cfg.VaultPassphrase,
			Salt:       cfg.VaultSalt,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	execLog := store.NewExecLog(st)
	executor := engine.NewExecutor(registry, execLog, logger)
	events := streaming.NewMemoryHub()
	processor := queue.NewProcessor(st, executor, execLog, queue.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
	}, logger)
	processor.SetEventHub(events)
	scheduler := queue.NewScheduler(st, processor, cfg.ScheduleInterval, logger)

	return &Service{
		store:     st,
		execLog:   execLog,
		registry:  registry,
		callbacks: callbacks,
		validator: validator,
		executor:  executor,
		processor: processor,
		scheduler: scheduler,
		events:    events,
		vault:     vault,
		logger:    logger,
	}, nil
}

// RegisterHandler installs application code for a node type. An empty
// action uses the standard audit label for that type. Must be called
// before definitions using the type are executed; duplicate registrations
// error.
func (s *Service) RegisterHandler(typ schema.NodeType, action string, fn HandlerFunc) error {
	if action == "" {
		action = handlers.ActionFor(typ)
	}
	return s.registry.Register(&funcHandler{typ: typ, action: action, fn: fn})
}

// RegisterCallback installs a named callback for custom nodes.
func (s *Service) RegisterCallback(name string, fn CallbackFunc) error {
	return s.callbacks.Register(name, handlers.CallbackFunc(fn))
}

// Start launches the queue processor and the cron scheduler. The context
// bounds both background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.processor.Start(ctx); err != nil {
		return err
	}
	if err := s.scheduler.Start(ctx); err != nil {
		s.processor.Stop()
		return err
	}
	return nil
}

// Stop halts both background loops and waits for in-flight ticks to
// finish. Safe to call more than once.
func (s *Service) Stop() error {
	schedErr := s.scheduler.Stop()
	procErr := s.processor.Stop()
	if procErr != nil {
		return procErr
	}
	return schedErr
}

// Close releases the store. Call Stop first.
func (s *Service) Close() error {
	return s.store.Close()
}
