package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/silhouette/hive/internal/errors"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/retry"
	"github.com/silhouette/hive/internal/scoring"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// harness bundles a dispatcher with its registries for tests.
type harness struct {
	tasks      *task.Registry
	teams      *team.Registry
	bus        *event.Bus
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, executor Executor, opts ...Option) *harness {
	t.Helper()
	tasks := task.NewRegistry()
	teams := team.NewRegistry()
	bus := event.NewBus()
	engine := scoring.NewEngine()
	retryMgr := retry.NewManager(retry.DefaultPolicy(), tasks, bus, logging.NopLogger())

	return &harness{
		tasks: tasks,
		teams: teams,
		bus:   bus,
		dispatcher: NewDispatcher(tasks, teams, engine, retryMgr, bus, executor,
			logging.NopLogger(), opts...),
	}
}

func (h *harness) registerTeam(t *testing.T, name string, capacity int, caps ...string) string {
	t.Helper()
	id, err := h.teams.Register(team.Descriptor{Name: name, Capabilities: caps, MaxCapacity: capacity})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return id
}

func (h *harness) submit(t *testing.T, spec task.Spec) string {
	t.Helper()
	id, err := h.tasks.Submit(spec)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return id
}

// waitStatus polls until the task reaches the status or the deadline hits.
func (h *harness) waitStatus(t *testing.T, taskID string, want task.Status) task.Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		tk, err := h.tasks.Get(taskID)
		if err == nil && tk.Status == want {
			return tk
		}
		select {
		case <-deadline:
			t.Fatalf("task %s stuck in %s, want %s", taskID, tk.Status, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func succeedExecutor(output any) Executor {
	return Func(func(ctx context.Context, t task.Task, tm team.Team) (any, error) {
		return output, nil
	})
}

// TestDispatchRoundTrip drives a single task through submit, assignment,
// execution, and completion, checking events and load along the way.
func TestDispatchRoundTrip(t *testing.T) {
	h := newHarness(t, succeedExecutor("done"))
	teamID := h.registerTeam(t, "alpha", 3, "build")

	var mu sync.Mutex
	var eventTypes []string
	h.bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		eventTypes = append(eventTypes, e.EventType())
		mu.Unlock()
	})

	taskID := h.submit(t, task.Spec{Type: "build", Priority: 5})

	h.dispatcher.RunCycle(context.Background())
	tk := h.waitStatus(t, taskID, task.StatusCompleted)
	h.dispatcher.Drain()

	if tk.AssignedTeamID != teamID {
		t.Errorf("AssignedTeamID = %s, want %s", tk.AssignedTeamID, teamID)
	}
	if tk.Result != "done" {
		t.Errorf("Result = %v, want done", tk.Result)
	}

	// Capacity released and metrics recorded on the team.
	tm, _ := h.teams.Get(teamID)
	if tm.CurrentLoad != 0 {
		t.Errorf("CurrentLoad after completion = %d, want 0", tm.CurrentLoad)
	}
	if tm.Metrics.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", tm.Metrics.TasksCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	wantOrder := []string{"task.assigned", "task.started", "task.completed"}
	idx := 0
	for _, et := range eventTypes {
		if idx < len(wantOrder) && et == wantOrder[idx] {
			idx++
		}
	}
	if idx != len(wantOrder) {
		t.Errorf("events %v missing ordered subsequence %v", eventTypes, wantOrder)
	}
}

// TestDispatchAtCapacity verifies a task stays pending, without a terminal
// failure, while the only matching team is full.
func TestDispatchAtCapacity(t *testing.T) {
	release := make(chan struct{})
	blocking := Func(func(ctx context.Context, tk task.Task, tm team.Team) (any, error) {
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	h := newHarness(t, blocking)
	h.registerTeam(t, "alpha", 1, "build")

	first := h.submit(t, task.Spec{Type: "build", Priority: 5})
	second := h.submit(t, task.Spec{Type: "build", Priority: 5})

	h.dispatcher.RunCycle(context.Background())
	h.waitStatus(t, first, task.StatusRunning)

	// Second cycle: the team is full, so the second task must stay pending.
	h.dispatcher.RunCycle(context.Background())
	if tk, _ := h.tasks.Get(second); tk.Status != task.StatusPending {
		t.Fatalf("second task = %s, want pending while team is full", tk.Status)
	}

	close(release)
	h.waitStatus(t, first, task.StatusCompleted)

	// Capacity freed: the next cycle dispatches the waiting task.
	h.dispatcher.RunCycle(context.Background())
	h.waitStatus(t, second, task.StatusCompleted)
	h.dispatcher.Drain()
}

// TestDispatchNoEligibleTeam verifies critical teams are skipped entirely.
func TestDispatchNoEligibleTeam(t *testing.T) {
	h := newHarness(t, succeedExecutor(nil))
	teamID := h.registerTeam(t, "alpha", 3, "build")
	_, _ = h.teams.UpdateStatus(teamID, team.StatusCritical, time.Now())

	taskID := h.submit(t, task.Spec{Type: "build", Priority: 5})
	h.dispatcher.RunCycle(context.Background())
	h.dispatcher.Drain()

	if tk, _ := h.tasks.Get(taskID); tk.Status != task.StatusPending {
		t.Errorf("task = %s, want pending with no healthy team", tk.Status)
	}
}

// TestDispatchFailureRetries verifies a failing executor sends the task
// through the retry path with backoff, then to terminal failure.
func TestDispatchFailureRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	failing := Func(func(ctx context.Context, tk task.Task, tm team.Team) (any, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return nil, errors.New("simulated crash")
	})

	now := time.Now()
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}

	tasks := task.NewRegistry(task.WithClock(clock))
	teams := team.NewRegistry()
	bus := event.NewBus()
	retryMgr := retry.NewManager(retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute},
		tasks, bus, logging.NopLogger(), retry.WithClock(clock))
	d := NewDispatcher(tasks, teams, scoring.NewEngine(), retryMgr, bus, failing,
		logging.NopLogger(), WithClock(clock))

	if _, err := teams.Register(team.Descriptor{Name: "alpha", Capabilities: []string{"build"}, MaxCapacity: 3}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	taskID, err := tasks.Submit(task.Spec{Type: "build", Priority: 5, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		d.RunCycle(context.Background())
		d.Drain()
		advance(time.Hour) // skip every backoff window

		tk, _ := tasks.Get(taskID)
		if tk.Status == task.StatusFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached terminal failure, status %s", tk.Status)
		default:
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

// TestDispatchTimeout verifies a hung executor is cut off at the attempt
// deadline and the task is retried as a timeout.
func TestDispatchTimeout(t *testing.T) {
	hang := Func(func(ctx context.Context, tk task.Task, tm team.Team) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h := newHarness(t, hang, WithTaskTimeout(20*time.Millisecond))
	h.registerTeam(t, "alpha", 3, "build")
	taskID := h.submit(t, task.Spec{Type: "build", Priority: 5})

	h.dispatcher.RunCycle(context.Background())
	h.dispatcher.Drain()

	tk, _ := h.tasks.Get(taskID)
	if tk.Status != task.StatusPending {
		t.Errorf("Status = %s, want pending (requeued after timeout)", tk.Status)
	}
	if tk.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", tk.RetryCount)
	}
}

// TestDispatchCancelRunning verifies cancelling an in-flight task fails it
// once the attempt settles.
func TestDispatchCancelRunning(t *testing.T) {
	started := make(chan struct{})
	blocking := Func(func(ctx context.Context, tk task.Task, tm team.Team) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h := newHarness(t, blocking)
	h.registerTeam(t, "alpha", 3, "build")
	taskID := h.submit(t, task.Spec{Type: "build", Priority: 5})

	h.dispatcher.RunCycle(context.Background())
	<-started

	if cancelled, wasRunning := h.tasks.Cancel(taskID); !cancelled || !wasRunning {
		t.Fatalf("Cancel = (%v, %v), want (true, true)", cancelled, wasRunning)
	}
	if !h.dispatcher.CancelRunning(taskID) {
		t.Fatal("CancelRunning found no in-flight attempt")
	}

	tk := h.waitStatus(t, taskID, task.StatusFailed)
	h.dispatcher.Drain()
	if tk.LastError != "cancelled" {
		t.Errorf("LastError = %q, want cancelled", tk.LastError)
	}
}

// TestDispatchMaxQueueTime verifies stale pending tasks are expired.
func TestDispatchMaxQueueTime(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	tasks := task.NewRegistry(task.WithClock(clock))
	teams := team.NewRegistry()
	bus := event.NewBus()
	retryMgr := retry.NewManager(retry.DefaultPolicy(), tasks, bus, logging.NopLogger())
	d := NewDispatcher(tasks, teams, scoring.NewEngine(), retryMgr, bus,
		succeedExecutor(nil), logging.NopLogger(),
		WithClock(clock), WithMaxQueueTime(10*time.Minute))

	// No teams registered, so the task cannot dispatch.
	taskID, err := tasks.Submit(task.Spec{Type: "build", Priority: 5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	d.RunCycle(context.Background())
	if tk, _ := tasks.Get(taskID); tk.Status != task.StatusPending {
		t.Fatalf("fresh task = %s, want pending", tk.Status)
	}

	mu.Lock()
	now = now.Add(11 * time.Minute)
	mu.Unlock()

	d.RunCycle(context.Background())
	tk, _ := tasks.Get(taskID)
	if tk.Status != task.StatusFailed {
		t.Errorf("stale task = %s, want failed", tk.Status)
	}
}

// TestDispatchPrefersBestTeam verifies the scoring engine drives placement.
func TestDispatchPrefersBestTeam(t *testing.T) {
	h := newHarness(t, succeedExecutor(nil))
	specialist := h.registerTeam(t, "specialist", 3, "build")
	h.registerTeam(t, "generalist", 3, "build", "deploy", "test")

	taskID := h.submit(t, task.Spec{Type: "build", Priority: 5})
	h.dispatcher.RunCycle(context.Background())
	tk := h.waitStatus(t, taskID, task.StatusCompleted)
	h.dispatcher.Drain()

	if tk.AssignedTeamID != specialist {
		t.Errorf("assigned to %s, want specialist", tk.AssignedTeamID)
	}
}
