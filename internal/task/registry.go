package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/silhouette/hive/internal/errors"
)

// Default policy values.
const (
	defaultMaxRetries  = 3
	defaultPriorityMin = 0
	defaultPriorityMax = 10
)

// Option configures a Registry.
type Option func(*Registry)

// WithPriorityRange sets the accepted priority range for submissions.
func WithPriorityRange(min, max int) Option {
	return func(r *Registry) {
		r.priorityMin = min
		r.priorityMax = max
	}
}

// WithDefaultMaxRetries sets the retry limit applied to specs that do not
// override it.
func WithDefaultMaxRetries(n int) Option {
	return func(r *Registry) { r.defaultMaxRetries = n }
}

// WithClock overrides the registry's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry owns task records and their lifecycle transitions.
// All methods are safe for concurrent use via an internal mutex.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string // submission order, for deterministic iteration

	priorityMin       int
	priorityMax       int
	defaultMaxRetries int
	clock             func() time.Time

	completedTotal int64
	failedTotal    int64
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:             make(map[string]*Task),
		priorityMin:       defaultPriorityMin,
		priorityMax:       defaultPriorityMax,
		defaultMaxRetries: defaultMaxRetries,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates a spec and creates a pending task, returning its ID.
// A spec with no type or with a priority outside the configured range is
// rejected with a ValidationError and is never retried.
func (r *Registry) Submit(spec Spec) (string, error) {
	if spec.Type == "" {
		return "", errors.NewValidationError("task type is required").WithField("type")
	}
	if spec.Priority < r.priorityMin || spec.Priority > r.priorityMax {
		return "", errors.NewValidationError(
			fmt.Sprintf("priority must be in [%d, %d]", r.priorityMin, r.priorityMax),
		).WithField("priority").WithValue(spec.Priority)
	}

	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.defaultMaxRetries
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Priority:      spec.Priority,
		Capabilities:  spec.Capabilities,
		Payload:       spec.Payload,
		Status:        StatusPending,
		CreatedAt:     r.clock(),
		MaxRetries:    maxRetries,
		CorrelationID: spec.CorrelationID,
	}
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)

	return t.ID, nil
}

// Assign transitions a pending task to assigned on the given team.
func (r *Registry) Assign(taskID, teamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("%w: cannot assign task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	t.Status = StatusAssigned
	t.AssignedTeamID = teamID
	return nil
}

// Reassign moves an assigned (not yet running) task to a different team.
// Used by the optimization loop; running tasks are never reassigned.
func (r *Registry) Reassign(taskID, teamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status != StatusAssigned {
		return fmt.Errorf("%w: cannot reassign task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	t.AssignedTeamID = teamID
	return nil
}

// Start transitions an assigned task to running and records the start time.
func (r *Registry) Start(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status != StatusAssigned {
		return fmt.Errorf("%w: cannot start task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	now := r.clock()
	t.Status = StatusRunning
	t.StartedAt = &now
	return nil
}

// Complete transitions a running task to completed and stores the result.
func (r *Registry) Complete(taskID string, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("%w: cannot complete task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	now := r.clock()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.Result = result
	t.LastError = ""
	r.completedTotal++
	return nil
}

// Fail transitions a running or assigned task to terminal failure.
// The retry manager calls this once retries are exhausted; Cancel calls it
// for pending tasks.
func (r *Registry) Fail(taskID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot fail task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	now := r.clock()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.LastError = reason
	r.failedTotal++
	return nil
}

// Retry returns a running or assigned task to pending after a failed
// attempt, incrementing its retry count. The task is not dispatchable
// again until notBefore. Retrying beyond MaxRetries is rejected.
func (r *Registry) Retry(taskID string, notBefore time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	if t.Status != StatusRunning && t.Status != StatusAssigned {
		return fmt.Errorf("%w: cannot retry task %s in status %s", errors.ErrInvalidTransition, taskID, t.Status)
	}
	if t.RetryCount >= t.MaxRetries {
		return fmt.Errorf("%w: task %s has exhausted %d retries", errors.ErrInvalidTransition, taskID, t.MaxRetries)
	}
	t.RetryCount++
	t.Status = StatusPending
	t.AssignedTeamID = ""
	t.StartedAt = nil
	t.NotBefore = notBefore
	t.LastError = lastErr
	return nil
}

// Cancel cancels a task. A pending task fails immediately; a running or
// assigned task is marked for cancellation and fails when its attempt
// returns. Returns false for unknown or already-terminal tasks, and whether
// the task was executing at the time.
func (r *Registry) Cancel(taskID string) (cancelled, wasRunning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok || t.Status.IsTerminal() {
		return false, false
	}

	if t.Status == StatusPending {
		now := r.clock()
		t.Status = StatusFailed
		t.CompletedAt = &now
		t.LastError = "cancelled"
		r.failedTotal++
		return true, false
	}

	t.CancelRequested = true
	return true, true
}

// Get returns a copy of the task with the given ID.
func (r *Registry) Get(taskID string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	return *t, nil
}

// List returns a consistent point-in-time snapshot of tasks matching the
// filter, in submission order.
func (r *Registry) List(f Filter) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Task
	for _, id := range r.order {
		t := r.tasks[id]
		if f.matches(t) {
			out = append(out, *t)
		}
	}
	return out
}

// Dispatchable returns pending tasks whose backoff window has elapsed,
// ordered highest priority first and oldest first within a priority tier.
// The ordering is total, so repeated dispatch cycles cannot starve an old
// low-priority task behind newer submissions of the same priority.
func (r *Registry) Dispatchable(now time.Time) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Task
	for _, id := range r.order {
		t := r.tasks[id]
		if t.Dispatchable(now) {
			out = append(out, *t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AssignedTo returns tasks assigned to the given team that have not yet
// started. The optimization loop consults this when rebalancing.
func (r *Registry) AssignedTo(teamID string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Task
	for _, id := range r.order {
		t := r.tasks[id]
		if t.Status == StatusAssigned && t.AssignedTeamID == teamID {
			out = append(out, *t)
		}
	}
	return out
}

// Counts returns a snapshot of per-status counts and cumulative totals.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Counts{
		CompletedTotal: r.completedTotal,
		FailedTotal:    r.failedTotal,
	}
	for _, t := range r.tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusAssigned:
			c.Assigned++
		case StatusRunning:
			c.Running++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
		c.Total++
	}
	return c
}

// PruneBefore removes terminal tasks that completed before the cutoff and
// returns how many were removed. Retention pruning keeps the registry
// bounded; cumulative counters are unaffected.
func (r *Registry) PruneBefore(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	kept := r.order[:0]
	for _, id := range r.order {
		t := r.tasks[id]
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return pruned
}

// Snapshot returns copies of all tasks in submission order, for persistence.
func (r *Registry) Snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tasks[id])
	}
	return out
}

// Restore loads tasks into an empty registry, preserving their IDs and
// state. Used when resuming from a persisted snapshot.
func (r *Registry) Restore(tasks []Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tasks) > 0 {
		return errors.New("restore requires an empty registry")
	}
	for i := range tasks {
		t := tasks[i]
		r.tasks[t.ID] = &t
		r.order = append(r.order, t.ID)
	}
	return nil
}
