// Package event defines lifecycle events for decoupling scheduler
// components. The dispatcher, health monitor, and optimization loop publish
// events here; observers (CLI output, metrics, tests) subscribe without
// direct dependencies on the components.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.assigned", "team.status_changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskSubmittedEvent is emitted when a task enters the registry.
type TaskSubmittedEvent struct {
	baseEvent
	TaskID        string
	TaskType      string
	Priority      int
	CorrelationID string
}

// NewTaskSubmittedEvent creates a TaskSubmittedEvent.
func NewTaskSubmittedEvent(taskID, taskType string, priority int, correlationID string) TaskSubmittedEvent {
	return TaskSubmittedEvent{
		baseEvent:     newBaseEvent("task.submitted"),
		TaskID:        taskID,
		TaskType:      taskType,
		Priority:      priority,
		CorrelationID: correlationID,
	}
}

// TaskAssignedEvent is emitted when the dispatcher selects a team for a task.
type TaskAssignedEvent struct {
	baseEvent
	TaskID            string
	TeamID            string
	Score             float64       // Affinity score of the winning team
	EstimatedDuration time.Duration // Team's duration estimate for this priority
}

// NewTaskAssignedEvent creates a TaskAssignedEvent.
func NewTaskAssignedEvent(taskID, teamID string, score float64, estimated time.Duration) TaskAssignedEvent {
	return TaskAssignedEvent{
		baseEvent:         newBaseEvent("task.assigned"),
		TaskID:            taskID,
		TeamID:            teamID,
		Score:             score,
		EstimatedDuration: estimated,
	}
}

// TaskStartedEvent is emitted when a task begins execution on a team.
type TaskStartedEvent struct {
	baseEvent
	TaskID string
	TeamID string
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, teamID string) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent: newBaseEvent("task.started"),
		TaskID:    taskID,
		TeamID:    teamID,
	}
}

// TaskCompletedEvent is emitted when a task finishes successfully.
type TaskCompletedEvent struct {
	baseEvent
	TaskID   string
	TeamID   string
	Duration time.Duration
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, teamID string, duration time.Duration) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent("task.completed"),
		TaskID:    taskID,
		TeamID:    teamID,
		Duration:  duration,
	}
}

// TaskFailedEvent is emitted when a task reaches terminal failure,
// either by exhausting retries or by a non-retryable error.
type TaskFailedEvent struct {
	baseEvent
	TaskID     string
	TeamID     string // Team of the final attempt (empty if never assigned)
	Reason     string
	RetryCount int
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID, teamID, reason string, retryCount int) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent:  newBaseEvent("task.failed"),
		TaskID:     taskID,
		TeamID:     teamID,
		Reason:     reason,
		RetryCount: retryCount,
	}
}

// TaskRetryingEvent is emitted when a failed attempt is requeued.
type TaskRetryingEvent struct {
	baseEvent
	TaskID     string
	RetryCount int
	NotBefore  time.Time // When the task becomes dispatchable again
}

// NewTaskRetryingEvent creates a TaskRetryingEvent.
func NewTaskRetryingEvent(taskID string, retryCount int, notBefore time.Time) TaskRetryingEvent {
	return TaskRetryingEvent{
		baseEvent:  newBaseEvent("task.retrying"),
		TaskID:     taskID,
		RetryCount: retryCount,
		NotBefore:  notBefore,
	}
}

// TaskCancelledEvent is emitted when a caller cancels a task.
type TaskCancelledEvent struct {
	baseEvent
	TaskID     string
	WasRunning bool // True if the task was executing when cancelled
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(taskID string, wasRunning bool) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent:  newBaseEvent("task.cancelled"),
		TaskID:     taskID,
		WasRunning: wasRunning,
	}
}

// -----------------------------------------------------------------------------
// Team Events
// -----------------------------------------------------------------------------

// TeamRegisteredEvent is emitted when a team joins the registry.
type TeamRegisteredEvent struct {
	baseEvent
	TeamID       string
	Name         string
	Capabilities []string
	MaxCapacity  int
}

// NewTeamRegisteredEvent creates a TeamRegisteredEvent.
func NewTeamRegisteredEvent(teamID, name string, capabilities []string, maxCapacity int) TeamRegisteredEvent {
	return TeamRegisteredEvent{
		baseEvent:    newBaseEvent("team.registered"),
		TeamID:       teamID,
		Name:         name,
		Capabilities: capabilities,
		MaxCapacity:  maxCapacity,
	}
}

// TeamStatusChangedEvent is emitted when the health monitor flips a team
// between healthy and critical.
type TeamStatusChangedEvent struct {
	baseEvent
	TeamID         string
	PreviousStatus string
	CurrentStatus  string
	SuccessRate    float64
}

// NewTeamStatusChangedEvent creates a TeamStatusChangedEvent.
func NewTeamStatusChangedEvent(teamID, previous, current string, successRate float64) TeamStatusChangedEvent {
	return TeamStatusChangedEvent{
		baseEvent:      newBaseEvent("team.status_changed"),
		TeamID:         teamID,
		PreviousStatus: previous,
		CurrentStatus:  current,
		SuccessRate:    successRate,
	}
}

// -----------------------------------------------------------------------------
// Queue and Optimization Events
// -----------------------------------------------------------------------------

// QueueDepthChangedEvent is emitted at the end of each dispatch cycle with
// a snapshot of the queue state counts.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending   int
	Assigned  int
	Running   int
	Completed int
	Failed    int
	Total     int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, assigned, running, completed, failed, total int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent("queue.depth_changed"),
		Pending:   pending,
		Assigned:  assigned,
		Running:   running,
		Completed: completed,
		Failed:    failed,
		Total:     total,
	}
}

// OptimizationAppliedEvent summarizes one optimization pass: tasks moved
// between teams and capacity adjustments made.
type OptimizationAppliedEvent struct {
	baseEvent
	TasksMoved      int
	CapacityChanges int
	Details         []string // Human-readable action descriptions
}

// NewOptimizationAppliedEvent creates an OptimizationAppliedEvent.
func NewOptimizationAppliedEvent(tasksMoved, capacityChanges int, details []string) OptimizationAppliedEvent {
	return OptimizationAppliedEvent{
		baseEvent:       newBaseEvent("optimization.applied"),
		TasksMoved:      tasksMoved,
		CapacityChanges: capacityChanges,
		Details:         details,
	}
}
