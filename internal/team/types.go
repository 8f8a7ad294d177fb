// Package team provides the team registry: worker-group descriptors,
// load and capacity accounting, health status, and performance metrics.
// The load counter is the dispatcher's admission gate; all mutation goes
// through the registry so capacity invariants hold under concurrency.
package team

import (
	"time"

	"github.com/silhouette/hive/internal/errors"
)

// HealthStatus represents a team's eligibility for new work.
type HealthStatus string

const (
	// StatusHealthy indicates the team may receive new assignments.
	StatusHealthy HealthStatus = "healthy"

	// StatusCritical indicates the team is excluded from dispatch until
	// the health monitor observes recovery.
	StatusCritical HealthStatus = "critical"
)

// String returns the string representation of the status.
func (s HealthStatus) String() string {
	return string(s)
}

// Descriptor configures a team before registration.
type Descriptor struct {
	// ID uniquely identifies the team. Generated when empty.
	ID string `yaml:"id"`

	// Name is the human-readable team name. Required.
	Name string `yaml:"name"`

	// Capabilities are the tags this team can serve. Required.
	Capabilities []string `yaml:"capabilities"`

	// MaxCapacity is the number of tasks the team can run concurrently.
	// Must be > 0.
	MaxCapacity int `yaml:"max_capacity"`

	// MinCapacity is the floor for capacity tuning. Defaults to 1.
	MinCapacity int `yaml:"min_capacity"`

	// CapacityLimit is the ceiling for capacity tuning. Defaults to
	// MaxCapacity, which pins the team's capacity unless the roster
	// grants headroom to grow into.
	CapacityLimit int `yaml:"capacity_limit"`

	// BaseResponseTime seeds duration estimates before real measurements
	// accumulate. Defaults to 30s.
	BaseResponseTime time.Duration `yaml:"base_response_time"`
}

// Validate checks that the descriptor has all required fields.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.NewValidationError("team name is required").WithField("name")
	}
	if len(d.Capabilities) == 0 {
		return errors.NewValidationError("at least one capability is required").WithField("capabilities")
	}
	if d.MaxCapacity <= 0 {
		return errors.NewValidationError("max capacity must be > 0").
			WithField("max_capacity").WithValue(d.MaxCapacity)
	}
	if d.MinCapacity < 0 {
		return errors.NewValidationError("min capacity must be >= 0").
			WithField("min_capacity").WithValue(d.MinCapacity)
	}
	if d.MinCapacity > d.MaxCapacity {
		return errors.NewValidationError("min capacity must be <= max capacity").
			WithField("min_capacity").WithValue(d.MinCapacity)
	}
	if d.CapacityLimit < 0 {
		return errors.NewValidationError("capacity limit must be >= 0").
			WithField("capacity_limit").WithValue(d.CapacityLimit)
	}
	if d.CapacityLimit > 0 && d.CapacityLimit < d.MaxCapacity {
		return errors.NewValidationError("capacity limit must be >= max capacity").
			WithField("capacity_limit").WithValue(d.CapacityLimit)
	}
	return nil
}

// Metrics tracks a team's performance history. AvgResponseTime and
// SuccessRate are exponential moving averages weighted toward recent
// observations.
type Metrics struct {
	TasksCompleted  int64         `json:"tasks_completed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	SuccessRate     float64       `json:"success_rate"` // in [0, 1]
}

// Team is a read-only snapshot of a team's runtime state.
type Team struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Capabilities    []string     `json:"capabilities"`
	Status          HealthStatus `json:"status"`
	CurrentLoad     int          `json:"current_load"`
	MaxCapacity     int          `json:"max_capacity"`
	MinCapacity     int          `json:"min_capacity"`
	CapacityLimit   int          `json:"capacity_limit"`
	Metrics         Metrics      `json:"metrics"`
	LastHealthCheck time.Time    `json:"last_health_check"`

	// Seq is the registration sequence number, used as the final
	// deterministic tie-break when ranking teams.
	Seq int `json:"seq"`

	baseResponseTime time.Duration
}

// Utilization returns currentLoad / maxCapacity.
func (t Team) Utilization() float64 {
	if t.MaxCapacity <= 0 {
		return 0
	}
	return float64(t.CurrentLoad) / float64(t.MaxCapacity)
}

// HasCapability reports whether the team declares the given tag.
func (t Team) HasCapability(tag string) bool {
	for _, c := range t.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// EstimateDuration predicts how long a task of the given priority will take
// on this team. High-priority work is serviced faster; the estimate starts
// from the team's measured response-time average, falling back to the
// configured base before any task has completed.
func (t Team) EstimateDuration(priority int) time.Duration {
	base := t.Metrics.AvgResponseTime
	if base <= 0 {
		base = t.baseResponseTime
	}
	if base <= 0 {
		base = 30 * time.Second
	}

	var scaled time.Duration
	switch {
	case priority >= 8:
		scaled = base * 7 / 10
	case priority >= 5:
		scaled = base * 9 / 10
	default:
		scaled = base * 12 / 10
	}

	if scaled < time.Second {
		scaled = time.Second
	}
	return scaled
}
