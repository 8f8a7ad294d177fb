// Package health periodically probes team health and flips teams between
// healthy and critical. Critical teams are excluded from dispatch until a
// later check observes recovery; in-flight work on a demoted team is left
// to finish on its own.
package health

import (
	"context"
	"time"

	"github.com/silhouette/hive/internal/errors"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/team"
)

// Default monitor settings.
const (
	defaultInterval             = 30 * time.Second
	defaultSuccessRateThreshold = 0.5
)

// Probe decides whether a team is healthy. A nil error means healthy;
// a TeamUnhealthyError carries the reason for demotion.
type Probe interface {
	Check(tm team.Team) error
}

// SuccessRateProbe marks a team critical when its success-rate moving
// average drops below Threshold.
type SuccessRateProbe struct {
	Threshold float64
}

// Check implements Probe.
func (p SuccessRateProbe) Check(tm team.Team) error {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = defaultSuccessRateThreshold
	}
	if tm.Metrics.SuccessRate < threshold {
		return errors.NewTeamUnhealthyError(tm.ID, tm.Metrics.SuccessRate)
	}
	return nil
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets how often teams are checked.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbe replaces the default success-rate probe.
func WithProbe(p Probe) Option {
	return func(m *Monitor) { m.probe = p }
}

// WithClock overrides the monitor's time source. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// Monitor runs periodic health checks over the team registry.
type Monitor struct {
	teams  *team.Registry
	bus    *event.Bus
	logger *logging.Logger

	interval time.Duration
	probe    Probe
	clock    func() time.Time
}

// NewMonitor creates a Monitor with the default success-rate probe.
func NewMonitor(teams *team.Registry, bus *event.Bus, logger *logging.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		teams:    teams,
		bus:      bus,
		logger:   logger.WithComponent("health"),
		interval: defaultInterval,
		probe:    SuccessRateProbe{Threshold: defaultSuccessRateThreshold},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the check loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", "interval", m.interval.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping")
			return
		case <-ticker.C:
			m.RunCheck()
		}
	}
}

// RunCheck probes every team once and applies status transitions. Exported
// so tests and the scheduler facade can drive checks deterministically.
// Returns the number of teams whose status changed.
func (m *Monitor) RunCheck() int {
	now := m.clock()
	changed := 0

	for _, tm := range m.teams.List() {
		next := team.StatusHealthy
		probeErr := m.probe.Check(tm)
		if probeErr != nil {
			next = team.StatusCritical
		}

		prev, err := m.teams.UpdateStatus(tm.ID, next, now)
		if err != nil {
			continue
		}
		if prev == next {
			continue
		}
		changed++

		log := m.logger.WithTeam(tm.ID).With("success_rate", tm.Metrics.SuccessRate)
		if next == team.StatusCritical {
			log.Warn("team demoted to critical", "reason", probeErr.Error())
		} else {
			log.Info("team recovered")
		}
		m.bus.Publish(event.NewTeamStatusChangedEvent(
			tm.ID, prev.String(), next.String(), tm.Metrics.SuccessRate))
	}

	return changed
}
