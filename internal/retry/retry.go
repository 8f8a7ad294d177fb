// Package retry decides what happens to a task after a failed attempt:
// re-queue it with an exponential backoff, or fail it terminally once
// retries are exhausted or the error is not retryable.
package retry

import (
	"time"

	"github.com/silhouette/hive/internal/errors"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/task"
)

// Default backoff parameters.
const (
	defaultBaseDelay = 2 * time.Second
	defaultMaxDelay  = 5 * time.Minute
)

// Policy computes retry backoff delays.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultPolicy returns the standard backoff policy: 2s base doubling per
// attempt, capped at 5m.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Backoff returns the delay before the attempt numbered retryCount
// (0-based: the first retry waits BaseDelay). Growth is base * 2^n,
// capped at MaxDelay.
func (p Policy) Backoff(retryCount int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

// Manager applies the retry policy to failed attempts. It is the only
// component that moves tasks along the Failed->Pending edge.
type Manager struct {
	policy Policy
	tasks  *task.Registry
	bus    *event.Bus
	logger *logging.Logger
	clock  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a retry manager over the given registry and bus.
func NewManager(policy Policy, tasks *task.Registry, bus *event.Bus, logger *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		policy: policy,
		tasks:  tasks,
		bus:    bus,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleFailure routes a failed attempt. Retryable errors re-queue the
// task with backoff until MaxRetries attempts have been retried; anything
// else, or an exhausted budget, fails the task terminally. Returns true
// when the task was re-queued.
func (m *Manager) HandleFailure(t task.Task, attemptErr error) (bool, error) {
	reason := "unknown failure"
	if attemptErr != nil {
		reason = attemptErr.Error()
	}

	log := m.logger.WithTask(t.ID).WithTeam(t.AssignedTeamID)

	if !errors.IsRetryable(attemptErr) || t.RetryCount >= t.MaxRetries {
		if err := m.tasks.Fail(t.ID, reason); err != nil {
			return false, err
		}
		log.Warn("task failed terminally",
			"reason", reason,
			"retry_count", t.RetryCount,
			"max_retries", t.MaxRetries)
		m.bus.Publish(event.NewTaskFailedEvent(t.ID, t.AssignedTeamID, reason, t.RetryCount))
		return false, nil
	}

	delay := m.policy.Backoff(t.RetryCount)
	notBefore := m.clock().Add(delay)
	if err := m.tasks.Retry(t.ID, notBefore, reason); err != nil {
		return false, err
	}

	log.Info("task scheduled for retry",
		"reason", reason,
		"retry", t.RetryCount+1,
		"max_retries", t.MaxRetries,
		"backoff", delay.String())
	m.bus.Publish(event.NewTaskRetryingEvent(t.ID, t.RetryCount+1, notBefore))
	return true, nil
}
