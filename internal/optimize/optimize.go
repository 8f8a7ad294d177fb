// Package optimize periodically rebalances queued work across teams and
// tunes team capacity. Plans are computed from registry snapshots off the
// hot path, then applied through registry methods so invariants hold.
package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/scoring"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// Default optimizer settings.
const (
	defaultInterval         = 60 * time.Second
	defaultLoadThreshold    = 2
	defaultScaleUpUtil      = 0.9
	defaultScaleDownUtil    = 0.3
	defaultCapacityCooldown = 5 * time.Minute
)

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets how often the optimizer runs.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// WithLoadThreshold sets how far a team's load may deviate from the mean
// before rebalancing kicks in.
func WithLoadThreshold(n int) Option {
	return func(l *Loop) { l.loadThreshold = n }
}

// WithUtilizationBounds sets the scale-up and scale-down utilization
// thresholds for capacity tuning.
func WithUtilizationBounds(up, down float64) Option {
	return func(l *Loop) {
		l.scaleUpUtil = up
		l.scaleDownUtil = down
	}
}

// WithCapacityCooldown sets the minimum time between capacity adjustments
// on the same team. The cooldown keeps a team hovering around a threshold
// from oscillating between +1 and -1 every pass.
func WithCapacityCooldown(d time.Duration) Option {
	return func(l *Loop) { l.capacityCooldown = d }
}

// WithClock overrides the optimizer's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) { l.clock = clock }
}

// Summary reports what one optimization pass changed.
type Summary struct {
	Moves           int
	CapacityChanges int
	Details         []string
}

// Loop is the periodic optimizer.
type Loop struct {
	tasks  *task.Registry
	teams  *team.Registry
	engine *scoring.Engine
	bus    *event.Bus
	logger *logging.Logger

	interval         time.Duration
	loadThreshold    int
	scaleUpUtil      float64
	scaleDownUtil    float64
	capacityCooldown time.Duration
	clock            func() time.Time

	lastAdjusted map[string]time.Time // teamID -> last capacity change
}

// NewLoop creates an optimizer over the given registries.
func NewLoop(
	tasks *task.Registry,
	teams *team.Registry,
	engine *scoring.Engine,
	bus *event.Bus,
	logger *logging.Logger,
	opts ...Option,
) *Loop {
	l := &Loop{
		tasks:            tasks,
		teams:            teams,
		engine:           engine,
		bus:              bus,
		logger:           logger.WithComponent("optimizer"),
		interval:         defaultInterval,
		loadThreshold:    defaultLoadThreshold,
		scaleUpUtil:      defaultScaleUpUtil,
		scaleDownUtil:    defaultScaleDownUtil,
		capacityCooldown: defaultCapacityCooldown,
		clock:            time.Now,
		lastAdjusted:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the optimization loop until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("optimizer started", "interval", l.interval.String())

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("optimizer stopping")
			return
		case <-ticker.C:
			l.RunOnce()
		}
	}
}

// RunOnce performs a single optimization pass and publishes a summary
// event when anything changed. Exported so tests and the scheduler facade
// can drive passes deterministically.
func (l *Loop) RunOnce() Summary {
	s := Summary{}
	l.rebalance(&s)
	l.tuneCapacity(&s)

	if s.Moves > 0 || s.CapacityChanges > 0 {
		l.logger.Info("optimization applied",
			"moves", s.Moves,
			"capacity_changes", s.CapacityChanges)
		l.bus.Publish(event.NewOptimizationAppliedEvent(s.Moves, s.CapacityChanges, s.Details))
	}
	return s
}

// rebalance moves queued (assigned, not yet started) work away from teams
// whose load deviates from the healthy-team mean by more than the
// threshold. Running tasks are never touched.
func (l *Loop) rebalance(s *Summary) {
	healthy := healthyTeams(l.teams.List())
	if len(healthy) < 2 {
		return
	}

	total := 0
	for _, tm := range healthy {
		total += tm.CurrentLoad
	}
	mean := float64(total) / float64(len(healthy))

	for _, src := range healthy {
		over := float64(src.CurrentLoad) - mean
		if over <= float64(l.loadThreshold) {
			continue
		}

		// Move enough queued work to bring the team back to the mean.
		budget := int(over)
		for _, t := range l.tasks.AssignedTo(src.ID) {
			if budget <= 0 {
				break
			}
			if l.moveTask(t, src.ID, mean) {
				s.Moves++
				budget--
				s.Details = append(s.Details,
					fmt.Sprintf("moved task %s off team %s", t.ID, src.ID))
			}
		}
	}
}

// moveTask reassigns one queued task from src to the best-scoring team
// below the mean load. Returns false when no underloaded team can take it.
func (l *Loop) moveTask(t task.Task, srcID string, mean float64) bool {
	var targets []team.Team
	for _, tm := range l.teams.Eligible() {
		if tm.ID != srcID && float64(tm.CurrentLoad) < mean {
			targets = append(targets, tm)
		}
	}

	best, _, ok := l.engine.Best(t, targets)
	if !ok {
		return false
	}

	// Reserve capacity on the target before releasing the source, so the
	// task always holds exactly one reservation.
	if err := l.teams.IncrementLoad(best.ID); err != nil {
		return false
	}
	if err := l.tasks.Reassign(t.ID, best.ID); err != nil {
		// Task started or finished since the snapshot.
		l.teams.DecrementLoad(best.ID)
		return false
	}
	l.teams.DecrementLoad(srcID)

	l.logger.WithTask(t.ID).Info("task rebalanced",
		"from", srcID,
		"to", best.ID)
	return true
}

// tuneCapacity grows or shrinks team capacity based on utilization, with a
// per-team cooldown between adjustments.
func (l *Loop) tuneCapacity(s *Summary) {
	now := l.clock()

	for _, tm := range l.teams.List() {
		if last, ok := l.lastAdjusted[tm.ID]; ok && now.Sub(last) < l.capacityCooldown {
			continue
		}

		util := tm.Utilization()
		delta := 0
		switch {
		case util > l.scaleUpUtil:
			delta = 1
		case util < l.scaleDownUtil && tm.MaxCapacity > tm.MinCapacity:
			delta = -1
		default:
			continue
		}

		next, err := l.teams.AdjustCapacity(tm.ID, delta)
		if err != nil || next == tm.MaxCapacity {
			continue
		}

		l.lastAdjusted[tm.ID] = now
		s.CapacityChanges++
		s.Details = append(s.Details,
			fmt.Sprintf("team %s capacity %d -> %d", tm.ID, tm.MaxCapacity, next))
		l.logger.WithTeam(tm.ID).Info("capacity adjusted",
			"utilization", util,
			"capacity", next)
	}
}

// healthyTeams filters a snapshot down to healthy teams.
func healthyTeams(teams []team.Team) []team.Team {
	var out []team.Team
	for _, tm := range teams {
		if tm.Status == team.StatusHealthy {
			out = append(out, tm)
		}
	}
	return out
}
