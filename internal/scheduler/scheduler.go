// Package scheduler wires the registries, scoring engine, dispatcher,
// retry manager, health monitor, and optimization loop into one facade.
// Everything is explicitly constructed and dependency-injected; there is
// no package-level state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/silhouette/hive/internal/dispatch"
	"github.com/silhouette/hive/internal/errors"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/health"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/optimize"
	"github.com/silhouette/hive/internal/retry"
	"github.com/silhouette/hive/internal/scoring"
	"github.com/silhouette/hive/internal/store"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// Default facade settings.
const (
	defaultRetentionAge     = time.Hour
	defaultPruneInterval    = time.Minute
	defaultSnapshotInterval = 30 * time.Second
)

// Config assembles a Scheduler. Executor is required; everything else has
// a working default.
type Config struct {
	Executor dispatch.Executor

	// Logger defaults to a no-op logger.
	Logger *logging.Logger

	// Store enables state snapshots when set. The scheduler is fully
	// functional without one.
	Store store.Store

	// Dispatch settings.
	DispatchInterval time.Duration
	TaskTimeout      time.Duration
	TypeTimeouts     map[string]time.Duration
	MaxQueueTime     time.Duration

	// Retry settings. MaxRetriesByType overrides the default limit for
	// specific task types when a spec does not set its own.
	RetryPolicy       retry.Policy
	DefaultMaxRetries int
	MaxRetriesByType  map[string]int

	// Health settings.
	HealthInterval  time.Duration
	HealthThreshold float64

	// Optimization settings.
	OptimizeInterval time.Duration
	LoadThreshold    int
	CapacityCooldown time.Duration

	// Retention for terminal tasks. Zero keeps the defaults.
	RetentionAge time.Duration

	// SnapshotInterval controls how often state is saved when a Store is
	// configured.
	SnapshotInterval time.Duration
}

// Metrics is a point-in-time view of scheduler health.
type Metrics struct {
	ActiveTasks      int                `json:"active_tasks"`
	QueueLength      int                `json:"queue_length"`
	CompletedTotal   int64              `json:"completed_total"`
	FailedTotal      int64              `json:"failed_total"`
	TeamsUtilization map[string]float64 `json:"teams_utilization"`
	AvgResponseTime  time.Duration      `json:"avg_response_time"`
	Throughput       float64            `json:"throughput_per_min"`
	SuccessRate      float64            `json:"success_rate"`
}

// Scheduler is the control surface over the scheduling core.
type Scheduler struct {
	tasks      *task.Registry
	teams      *team.Registry
	bus        *event.Bus
	engine     *scoring.Engine
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	optimizer  *optimize.Loop
	logger     *logging.Logger
	st         store.Store

	retentionAge     time.Duration
	snapshotInterval time.Duration
	maxRetriesByType map[string]int

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	stopped   bool
	startedAt time.Time
}

// New constructs a Scheduler from the config.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Executor == nil {
		return nil, errors.New("scheduler requires an executor")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	var taskOpts []task.Option
	if cfg.DefaultMaxRetries > 0 {
		taskOpts = append(taskOpts, task.WithDefaultMaxRetries(cfg.DefaultMaxRetries))
	}
	tasks := task.NewRegistry(taskOpts...)
	teams := team.NewRegistry()
	bus := event.NewBus()
	engine := scoring.NewEngine()

	policy := cfg.RetryPolicy
	if policy.BaseDelay == 0 && policy.MaxDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	retryMgr := retry.NewManager(policy, tasks, bus, logger)

	var dispatchOpts []dispatch.Option
	if cfg.DispatchInterval > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithInterval(cfg.DispatchInterval))
	}
	if cfg.TaskTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithTaskTimeout(cfg.TaskTimeout))
	}
	if len(cfg.TypeTimeouts) > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithTypeTimeouts(cfg.TypeTimeouts))
	}
	if cfg.MaxQueueTime > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithMaxQueueTime(cfg.MaxQueueTime))
	}
	dispatcher := dispatch.NewDispatcher(tasks, teams, engine, retryMgr, bus, cfg.Executor, logger, dispatchOpts...)

	var healthOpts []health.Option
	if cfg.HealthInterval > 0 {
		healthOpts = append(healthOpts, health.WithInterval(cfg.HealthInterval))
	}
	if cfg.HealthThreshold > 0 {
		healthOpts = append(healthOpts, health.WithProbe(health.SuccessRateProbe{Threshold: cfg.HealthThreshold}))
	}
	monitor := health.NewMonitor(teams, bus, logger, healthOpts...)

	var optimizeOpts []optimize.Option
	if cfg.OptimizeInterval > 0 {
		optimizeOpts = append(optimizeOpts, optimize.WithInterval(cfg.OptimizeInterval))
	}
	if cfg.LoadThreshold > 0 {
		optimizeOpts = append(optimizeOpts, optimize.WithLoadThreshold(cfg.LoadThreshold))
	}
	if cfg.CapacityCooldown > 0 {
		optimizeOpts = append(optimizeOpts, optimize.WithCapacityCooldown(cfg.CapacityCooldown))
	}
	optimizer := optimize.NewLoop(tasks, teams, engine, bus, logger, optimizeOpts...)

	retention := cfg.RetentionAge
	if retention <= 0 {
		retention = defaultRetentionAge
	}
	snapInterval := cfg.SnapshotInterval
	if snapInterval <= 0 {
		snapInterval = defaultSnapshotInterval
	}

	return &Scheduler{
		tasks:            tasks,
		teams:            teams,
		bus:              bus,
		engine:           engine,
		dispatcher:       dispatcher,
		monitor:          monitor,
		optimizer:        optimizer,
		logger:           logger.WithComponent("scheduler"),
		st:               cfg.Store,
		retentionAge:     retention,
		snapshotInterval: snapInterval,
		maxRetriesByType: cfg.MaxRetriesByType,
	}, nil
}

// Bus exposes the event bus for observers.
func (s *Scheduler) Bus() *event.Bus {
	return s.bus
}

// Start launches the background loops. It restores persisted task state
// first when a store is configured.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.ErrSchedulerStopped
	}
	if s.running {
		return errors.New("scheduler already started")
	}

	if s.st != nil {
		if snap, ok, err := s.st.Load(); err != nil {
			s.logger.Warn("state restore failed", "error", err)
		} else if ok {
			if err := s.tasks.Restore(resumable(snap.Tasks)); err != nil {
				s.logger.Warn("state restore failed", "error", err)
			} else {
				s.logger.Info("state restored", "tasks", len(snap.Tasks))
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now()

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.dispatcher.Start(ctx) }()
	go func() { defer s.wg.Done(); s.monitor.Start(ctx) }()
	go func() { defer s.wg.Done(); s.optimizer.Start(ctx) }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.pruneLoop(ctx) }()

	if s.st != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.snapshotLoop(ctx) }()
	}

	s.logger.Info("scheduler started")
	return nil
}

// Stop cancels the background loops, waits for in-flight attempts, and
// saves a final snapshot when a store is configured.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.dispatcher.Drain()

	if s.st != nil {
		if err := s.saveSnapshot(); err != nil {
			s.logger.Warn("final snapshot failed", "error", err)
		}
	}
	s.logger.Info("scheduler stopped")
}

// Submit validates and enqueues a task, returning its ID.
func (s *Scheduler) Submit(spec task.Spec) (string, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", errors.ErrSchedulerStopped
	}
	s.mu.Unlock()

	if spec.MaxRetries == 0 {
		if limit, ok := s.maxRetriesByType[spec.Type]; ok {
			spec.MaxRetries = limit
		}
	}

	id, err := s.tasks.Submit(spec)
	if err != nil {
		return "", err
	}

	s.logger.WithTask(id).Info("task submitted",
		"type", spec.Type,
		"priority", spec.Priority)
	s.bus.Publish(event.NewTaskSubmittedEvent(id, spec.Type, spec.Priority, spec.CorrelationID))
	s.dispatcher.Wake()
	return id, nil
}

// Get returns the task with the given ID.
func (s *Scheduler) Get(taskID string) (task.Task, error) {
	return s.tasks.Get(taskID)
}

// List returns tasks matching the filter.
func (s *Scheduler) List(f task.Filter) []task.Task {
	return s.tasks.List(f)
}

// Cancel cancels a task. Pending tasks fail immediately; running tasks
// have their attempt context cancelled and settle shortly after.
func (s *Scheduler) Cancel(taskID string) bool {
	cancelled, wasRunning := s.tasks.Cancel(taskID)
	if !cancelled {
		return false
	}
	if wasRunning {
		s.dispatcher.CancelRunning(taskID)
	} else {
		s.bus.Publish(event.NewTaskCancelledEvent(taskID, false))
	}
	s.logger.WithTask(taskID).Info("task cancel requested", "was_running", wasRunning)
	return true
}

// RegisterTeam adds a team to the registry.
func (s *Scheduler) RegisterTeam(d team.Descriptor) (string, error) {
	id, err := s.teams.Register(d)
	if err != nil {
		return "", err
	}
	s.logger.WithTeam(id).Info("team registered",
		"name", d.Name,
		"max_capacity", d.MaxCapacity)
	s.bus.Publish(event.NewTeamRegisteredEvent(id, d.Name, d.Capabilities, d.MaxCapacity))
	s.dispatcher.Wake()
	return id, nil
}

// Teams returns snapshots of all registered teams.
func (s *Scheduler) Teams() []team.Team {
	return s.teams.List()
}

// Metrics aggregates current scheduler state.
func (s *Scheduler) Metrics() Metrics {
	counts := s.tasks.Counts()
	teams := s.teams.List()

	m := Metrics{
		ActiveTasks:      counts.Assigned + counts.Running,
		QueueLength:      counts.Pending,
		CompletedTotal:   counts.CompletedTotal,
		FailedTotal:      counts.FailedTotal,
		TeamsUtilization: make(map[string]float64, len(teams)),
	}

	var totalResponse time.Duration
	var measured int
	var totalRate float64
	for _, tm := range teams {
		m.TeamsUtilization[tm.ID] = tm.Utilization()
		totalRate += tm.Metrics.SuccessRate
		if tm.Metrics.AvgResponseTime > 0 {
			totalResponse += tm.Metrics.AvgResponseTime
			measured++
		}
	}
	if measured > 0 {
		m.AvgResponseTime = totalResponse / time.Duration(measured)
	}
	if len(teams) > 0 {
		m.SuccessRate = totalRate / float64(len(teams))
	}

	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()
	if !startedAt.IsZero() {
		if minutes := time.Since(startedAt).Minutes(); minutes > 0 {
			m.Throughput = float64(counts.CompletedTotal) / minutes
		}
	}

	return m
}

// pruneLoop removes terminal tasks past the retention window.
func (s *Scheduler) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tasks.PruneBefore(time.Now().Add(-s.retentionAge)); n > 0 {
				s.logger.Debug("pruned terminal tasks", "count", n)
			}
		}
	}
}

// snapshotLoop periodically saves scheduler state.
func (s *Scheduler) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.saveSnapshot(); err != nil {
				s.logger.Warn("snapshot failed", "error", err)
			}
		}
	}
}

// saveSnapshot writes the current state to the store.
func (s *Scheduler) saveSnapshot() error {
	return s.st.Save(store.Snapshot{
		SavedAt: time.Now(),
		Tasks:   s.tasks.Snapshot(),
		Teams:   s.teams.List(),
	})
}

// resumable rewrites restored task state so interrupted work restarts
// cleanly: assigned and running tasks return to pending with no team.
func resumable(tasks []task.Task) []task.Task {
	out := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		switch t.Status {
		case task.StatusAssigned, task.StatusRunning:
			t.Status = task.StatusPending
			t.AssignedTeamID = ""
			t.StartedAt = nil
		}
		out = append(out, t)
	}
	return out
}
