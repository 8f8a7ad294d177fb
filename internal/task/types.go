// Package task provides the task registry: it owns task records and is the
// only component allowed to mutate their lifecycle state. The dispatcher,
// retry manager, and optimization loop act on tasks exclusively through the
// registry's transition methods so that state invariants hold under
// concurrent access.
package task

import "time"

// Status represents the current lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting for dispatch.
	StatusPending Status = "pending"

	// StatusAssigned indicates a team has been selected but execution has
	// not yet started.
	StatusAssigned Status = "assigned"

	// StatusRunning indicates the task is actively executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed and exhausted all retries,
	// or was cancelled.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Spec describes a unit of work submitted to the scheduler.
type Spec struct {
	// Type is the task's type tag, used for capability matching and
	// per-type retry/timeout policy. Required.
	Type string `json:"type" yaml:"type"`

	// Priority orders dispatch; higher is more urgent. Must fall within
	// the registry's configured range.
	Priority int `json:"priority" yaml:"priority"`

	// Capabilities the executing team must provide. When empty, the task's
	// Type is used as the single required capability.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Payload is opaque to the scheduler and passed through to the executor.
	Payload any `json:"payload,omitempty" yaml:"payload,omitempty"`

	// MaxRetries overrides the registry default when > 0.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// CorrelationID links the task to an external request.
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
}

// RequiredCapabilities returns the capability tags a team must match.
// Falls back to the type tag when no explicit capabilities are set.
func (s Spec) RequiredCapabilities() []string {
	if len(s.Capabilities) > 0 {
		return s.Capabilities
	}
	if s.Type != "" {
		return []string{s.Type}
	}
	return nil
}

// Task is a unit of work with its full lifecycle state. Values returned by
// the registry are copies; mutating them has no effect on registry state.
type Task struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Priority       int        `json:"priority"`
	Capabilities   []string   `json:"capabilities,omitempty"`
	Payload        any        `json:"payload,omitempty"`
	Status         Status     `json:"status"`
	AssignedTeamID string     `json:"assigned_team_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	CorrelationID  string     `json:"correlation_id,omitempty"`

	// NotBefore delays dispatch eligibility after a retry backoff.
	// The zero value means the task is immediately dispatchable.
	NotBefore time.Time `json:"not_before,omitempty"`

	// CancelRequested marks a running task for cancellation. The executor
	// observes this through context cancellation; the scheduler does not
	// assume it cooperates.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// LastError holds the most recent failure description.
	LastError string `json:"last_error,omitempty"`

	// Result holds the executor output once completed.
	Result any `json:"result,omitempty"`
}

// RequiredCapabilities returns the capability tags a team must match.
func (t Task) RequiredCapabilities() []string {
	if len(t.Capabilities) > 0 {
		return t.Capabilities
	}
	return []string{t.Type}
}

// Dispatchable returns true if the task is pending and its backoff window,
// if any, has elapsed.
func (t Task) Dispatchable(now time.Time) bool {
	return t.Status == StatusPending && !now.Before(t.NotBefore)
}

// Filter selects tasks in List. Zero-valued fields match everything.
type Filter struct {
	Status Status
	Type   string
}

// matches reports whether a task satisfies the filter.
func (f Filter) matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

// Counts is a snapshot of registry state, including cumulative totals that
// survive retention pruning.
type Counts struct {
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`

	// CompletedTotal and FailedTotal are cumulative since registry creation.
	CompletedTotal int64 `json:"completed_total"`
	FailedTotal    int64 `json:"failed_total"`
}
