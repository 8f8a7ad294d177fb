package team

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/silhouette/hive/internal/errors"
)

// defaultEMAAlpha is the smoothing factor for metric moving averages.
// Higher values weight recent observations more heavily.
const defaultEMAAlpha = 0.3

// Option configures a Registry.
type Option func(*Registry)

// WithEMAAlpha sets the smoothing factor for response-time and
// success-rate moving averages. Must be in (0, 1].
func WithEMAAlpha(alpha float64) Option {
	return func(r *Registry) { r.alpha = alpha }
}

// teamState is the registry's mutable record for one team.
type teamState struct {
	Team
}

// Registry owns team records: registration, load accounting, health
// status, capacity, and performance metrics. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	teams map[string]*teamState
	order []string // registration order, for deterministic iteration
	alpha float64
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		teams: make(map[string]*teamState),
		alpha: defaultEMAAlpha,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates a descriptor and adds the team with zero load and
// healthy status. Returns the team's ID.
func (r *Registry) Register(d Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.teams[id]; exists {
		return "", fmt.Errorf("duplicate team ID %q", id)
	}

	minCap := d.MinCapacity
	if minCap == 0 {
		minCap = 1
	}
	limit := d.CapacityLimit
	if limit == 0 {
		limit = d.MaxCapacity
	}

	caps := make([]string, len(d.Capabilities))
	copy(caps, d.Capabilities)

	r.teams[id] = &teamState{Team: Team{
		ID:            id,
		Name:          d.Name,
		Capabilities:  caps,
		Status:        StatusHealthy,
		MaxCapacity:   d.MaxCapacity,
		MinCapacity:   minCap,
		CapacityLimit: limit,
		Metrics: Metrics{
			// New teams start with an optimistic success rate so the
			// health monitor does not exclude them before any work runs.
			SuccessRate: 1.0,
		},
		Seq:              len(r.order),
		baseResponseTime: d.BaseResponseTime,
	}}
	r.order = append(r.order, id)

	return id, nil
}

// IncrementLoad reserves one unit of capacity on the team. This is the
// dispatcher's admission gate: it fails with ErrAtCapacity when the team
// is full, so load never exceeds capacity.
func (r *Registry) IncrementLoad(teamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrTeamNotFound, teamID)
	}
	if t.CurrentLoad >= t.MaxCapacity {
		return fmt.Errorf("%w: %s (%d/%d)", errors.ErrAtCapacity, teamID, t.CurrentLoad, t.MaxCapacity)
	}
	t.CurrentLoad++
	return nil
}

// DecrementLoad releases one unit of capacity. Floors at zero so a
// double release cannot corrupt the counter.
func (r *Registry) DecrementLoad(teamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return
	}
	if t.CurrentLoad > 0 {
		t.CurrentLoad--
	}
}

// UpdateStatus sets the team's health status and stamps the check time.
// Returns the previous status.
func (r *Registry) UpdateStatus(teamID string, status HealthStatus, checkedAt time.Time) (HealthStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrTeamNotFound, teamID)
	}
	prev := t.Status
	t.Status = status
	t.LastHealthCheck = checkedAt
	return prev, nil
}

// AdjustCapacity changes the team's max capacity by delta, clamped to
// [MinCapacity, CapacityLimit]. Capacity also never drops below the
// current load. Returns the new capacity.
func (r *Registry) AdjustCapacity(teamID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errors.ErrTeamNotFound, teamID)
	}

	next := t.MaxCapacity + delta
	if next > t.CapacityLimit {
		next = t.CapacityLimit
	}
	if next < t.MinCapacity {
		next = t.MinCapacity
	}
	if next < t.CurrentLoad {
		// Shrinking below in-flight work would violate load <= capacity.
		next = t.CurrentLoad
	}
	t.MaxCapacity = next
	return next, nil
}

// RecordSuccess updates the team's metrics after a successful attempt:
// completion count, response-time EMA toward the observed duration, and
// success-rate EMA toward 1.
func (r *Registry) RecordSuccess(teamID string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return
	}
	t.Metrics.TasksCompleted++
	t.Metrics.SuccessRate = ema(t.Metrics.SuccessRate, 1.0, r.alpha)
	if t.Metrics.AvgResponseTime <= 0 {
		t.Metrics.AvgResponseTime = duration
	} else {
		t.Metrics.AvgResponseTime = time.Duration(
			ema(float64(t.Metrics.AvgResponseTime), float64(duration), r.alpha),
		)
	}
}

// RecordFailure updates the success-rate EMA toward 0 after a failed
// attempt. Response time is not updated; failure latency says nothing
// about how fast the team completes work.
func (r *Registry) RecordFailure(teamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return
	}
	t.Metrics.SuccessRate = ema(t.Metrics.SuccessRate, 0.0, r.alpha)
}

// ema blends a new observation into the running average.
func ema(current, observed, alpha float64) float64 {
	return alpha*observed + (1-alpha)*current
}

// Get returns a snapshot of the team with the given ID.
func (r *Registry) Get(teamID string) (Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[teamID]
	if !ok {
		return Team{}, fmt.Errorf("%w: %s", errors.ErrTeamNotFound, teamID)
	}
	return snapshot(t), nil
}

// List returns snapshots of all teams in registration order.
func (r *Registry) List() []Team {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Team, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshot(r.teams[id]))
	}
	return out
}

// Eligible returns teams that may receive new work: healthy and below
// capacity, in registration order. Capability fit is the scoring engine's
// concern; a team with no matching capability simply scores zero on that
// component.
func (r *Registry) Eligible() []Team {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Team
	for _, id := range r.order {
		t := r.teams[id]
		if t.Status == StatusHealthy && t.CurrentLoad < t.MaxCapacity {
			out = append(out, snapshot(t))
		}
	}
	return out
}

// snapshot copies a team state, including its capability slice.
func snapshot(t *teamState) Team {
	cp := t.Team
	cp.Capabilities = make([]string, len(t.Capabilities))
	copy(cp.Capabilities, t.Capabilities)
	return cp
}
