// Package dispatch assigns pending tasks to teams and drives their
// execution. Each cycle it drains the dispatchable queue in priority
// order, ranks eligible teams per task, reserves capacity on the winner,
// and runs the attempt in its own goroutine. Failed attempts are handed to
// the retry manager; the dispatcher itself never decides retry policy.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/silhouette/hive/internal/errors"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/retry"
	"github.com/silhouette/hive/internal/scoring"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// Default dispatcher settings.
const (
	defaultInterval    = 500 * time.Millisecond
	defaultTaskTimeout = 2 * time.Minute
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets how often the dispatch loop runs when idle.
func WithInterval(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.interval = d }
}

// WithTaskTimeout sets the deadline applied to each execution attempt.
func WithTaskTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.taskTimeout = d }
}

// WithTypeTimeouts overrides the attempt deadline for specific task types.
func WithTypeTimeouts(timeouts map[string]time.Duration) Option {
	return func(dp *Dispatcher) { dp.typeTimeouts = timeouts }
}

// WithMaxQueueTime bounds how long a task may sit pending before it is
// failed terminally. Zero disables the bound.
func WithMaxQueueTime(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.maxQueueTime = d }
}

// WithClock overrides the dispatcher's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(dp *Dispatcher) { dp.clock = clock }
}

// Dispatcher matches pending tasks to teams and executes them.
type Dispatcher struct {
	tasks    *task.Registry
	teams    *team.Registry
	engine   *scoring.Engine
	retry    *retry.Manager
	bus      *event.Bus
	executor Executor
	logger   *logging.Logger

	interval     time.Duration
	taskTimeout  time.Duration
	typeTimeouts map[string]time.Duration
	maxQueueTime time.Duration
	clock        func() time.Time

	// wake lets attempt completions trigger an immediate cycle instead of
	// waiting out the ticker.
	wake chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc // taskID -> cancel for in-flight attempts
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over the given registries.
func NewDispatcher(
	tasks *task.Registry,
	teams *team.Registry,
	engine *scoring.Engine,
	retryMgr *retry.Manager,
	bus *event.Bus,
	executor Executor,
	logger *logging.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		tasks:       tasks,
		teams:       teams,
		engine:      engine,
		retry:       retryMgr,
		bus:         bus,
		executor:    executor,
		logger:      logger.WithComponent("dispatcher"),
		interval:    defaultInterval,
		taskTimeout: defaultTaskTimeout,
		clock:       time.Now,
		wake:        make(chan struct{}, 1),
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the dispatch loop until ctx is cancelled, then waits for
// in-flight attempts to settle.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.interval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		case <-d.wake:
			d.RunCycle(ctx)
		}
	}
}

// Wake requests an immediate dispatch cycle. Non-blocking; a pending wake
// is coalesced.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RunCycle performs one dispatch pass: expire stale pending tasks, then
// assign and launch every dispatchable task that has an eligible team with
// capacity. Exported so tests and the scheduler facade can drive cycles
// deterministically.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	now := d.clock()

	d.expireStale(now)

	for _, t := range d.tasks.Dispatchable(now) {
		if ctx.Err() != nil {
			return
		}
		d.dispatchOne(ctx, t)
	}

	c := d.tasks.Counts()
	d.bus.Publish(event.NewQueueDepthChangedEvent(
		c.Pending, c.Assigned, c.Running, c.Completed, c.Failed, c.Total))
}

// expireStale fails pending tasks that exceeded the queue-time bound.
func (d *Dispatcher) expireStale(now time.Time) {
	if d.maxQueueTime <= 0 {
		return
	}
	cutoff := now.Add(-d.maxQueueTime)
	for _, t := range d.tasks.List(task.Filter{Status: task.StatusPending}) {
		if t.CreatedAt.Before(cutoff) {
			if err := d.tasks.Fail(t.ID, "maximum queue time exceeded"); err != nil {
				continue
			}
			d.logger.WithTask(t.ID).Warn("task expired in queue",
				"queued", now.Sub(t.CreatedAt).String(),
				"max_queue_time", d.maxQueueTime.String())
			d.bus.Publish(event.NewTaskFailedEvent(t.ID, "", "maximum queue time exceeded", t.RetryCount))
		}
	}
}

// dispatchOne assigns a single task to the best eligible team and launches
// its attempt. When every candidate is at capacity, or none exists, the
// task simply stays pending for the next cycle.
func (d *Dispatcher) dispatchOne(ctx context.Context, t task.Task) {
	candidates := d.engine.Rank(t, d.teams.Eligible())
	if len(candidates) == 0 {
		d.logger.WithTask(t.ID).Debug("no eligible team", "type", t.Type)
		return
	}

	for _, c := range candidates {
		// Reserve capacity before assigning. Another goroutine may have
		// filled the team since the snapshot was taken; fall through to
		// the next candidate when the reservation fails.
		if err := d.teams.IncrementLoad(c.Team.ID); err != nil {
			if errors.Is(err, errors.ErrAtCapacity) {
				continue
			}
			d.logger.WithTask(t.ID).Error("capacity reservation failed", "error", err)
			return
		}

		if err := d.tasks.Assign(t.ID, c.Team.ID); err != nil {
			// The task changed state under us (cancelled or already
			// assigned); release the reservation.
			d.teams.DecrementLoad(c.Team.ID)
			d.logger.WithTask(t.ID).Debug("assign skipped", "error", err)
			return
		}

		estimated := c.Team.EstimateDuration(t.Priority)
		d.logger.WithTask(t.ID).WithTeam(c.Team.ID).Info("task assigned",
			"score", c.Score,
			"estimated_duration", estimated.String())
		d.bus.Publish(event.NewTaskAssignedEvent(t.ID, c.Team.ID, c.Score, estimated))

		d.wg.Add(1)
		go d.execute(ctx, t.ID, c.Team)
		return
	}

	d.logger.WithTask(t.ID).Debug("all candidate teams at capacity", "type", t.Type)
}

// execute runs one attempt of the task on the given team and settles the
// outcome: completion, cancellation, or a hand-off to the retry manager.
func (d *Dispatcher) execute(ctx context.Context, taskID string, tm team.Team) {
	defer d.wg.Done()
	defer d.teams.DecrementLoad(tm.ID)
	defer d.Wake()

	if err := d.tasks.Start(taskID); err != nil {
		// Cancelled between assignment and start.
		d.logger.WithTask(taskID).Debug("start skipped", "error", err)
		return
	}
	d.bus.Publish(event.NewTaskStartedEvent(taskID, tm.ID))

	t, err := d.tasks.Get(taskID)
	if err != nil {
		return
	}

	timeout := d.taskTimeout
	if override, ok := d.typeTimeouts[t.Type]; ok {
		timeout = override
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	d.trackRunning(taskID, cancel)

	started := d.clock()
	output, execErr := d.runAttempt(attemptCtx, t, tm)
	duration := d.clock().Sub(started)

	d.untrackRunning(taskID)
	cancel()

	// A cancel request observed after the attempt returns wins over the
	// attempt outcome.
	if cur, err := d.tasks.Get(taskID); err == nil && cur.CancelRequested {
		if err := d.tasks.Fail(taskID, "cancelled"); err == nil {
			d.teams.RecordFailure(tm.ID)
			d.logger.WithTask(taskID).WithTeam(tm.ID).Info("task cancelled during execution")
			d.bus.Publish(event.NewTaskCancelledEvent(taskID, true))
		}
		return
	}

	if execErr == nil {
		if err := d.tasks.Complete(taskID, output); err != nil {
			d.logger.WithTask(taskID).Error("complete failed", "error", err)
			return
		}
		d.teams.RecordSuccess(tm.ID, duration)
		d.logger.WithTask(taskID).WithTeam(tm.ID).Info("task completed",
			"duration", duration.String())
		d.bus.Publish(event.NewTaskCompletedEvent(taskID, tm.ID, duration))
		return
	}

	d.teams.RecordFailure(tm.ID)
	if cur, err := d.tasks.Get(taskID); err == nil {
		if _, err := d.retry.HandleFailure(cur, execErr); err != nil {
			d.logger.WithTask(taskID).Error("failure handling failed", "error", err)
		}
	}
}

// runAttempt invokes the executor in its own goroutine so a deadline can
// be enforced even when the executor ignores ctx.
func (d *Dispatcher) runAttempt(ctx context.Context, t task.Task, tm team.Team) (any, error) {
	type attemptResult struct {
		output any
		err    error
	}

	done := make(chan attemptResult, 1)
	go func() {
		output, err := d.executor.Execute(ctx, t, tm)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, errors.NewExecutionError(t.ID, tm.ID, "", res.err)
		}
		return res.output, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewTimeoutError("execute "+t.Type, d.timeoutFor(t.Type))
		}
		return nil, ctx.Err()
	}
}

// timeoutFor returns the attempt deadline for a task type.
func (d *Dispatcher) timeoutFor(taskType string) time.Duration {
	if override, ok := d.typeTimeouts[taskType]; ok {
		return override
	}
	return d.taskTimeout
}

// CancelRunning cancels the in-flight attempt for a task, if one exists.
// The scheduler facade calls this after marking the task for cancellation.
func (d *Dispatcher) CancelRunning(taskID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[taskID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Drain blocks until all in-flight attempts have settled.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

func (d *Dispatcher) trackRunning(taskID string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.running[taskID] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrackRunning(taskID string) {
	d.mu.Lock()
	delete(d.running, taskID)
	d.mu.Unlock()
}
