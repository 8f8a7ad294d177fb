package optimize

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/scoring"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

type fixture struct {
	tasks *task.Registry
	teams *team.Registry
	bus   *event.Bus
	loop  *Loop
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	tasks := task.NewRegistry()
	teams := team.NewRegistry()
	bus := event.NewBus()
	return &fixture{
		tasks: tasks,
		teams: teams,
		bus:   bus,
		loop:  NewLoop(tasks, teams, scoring.NewEngine(), bus, logging.NopLogger(), opts...),
	}
}

func (f *fixture) registerTeam(t *testing.T, id string, capacity int) string {
	t.Helper()
	got, err := f.teams.Register(team.Descriptor{
		ID: id, Name: id, Capabilities: []string{"build"}, MaxCapacity: capacity,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
	return got
}

// loadTeam fills a team with n tasks: queued tasks are assigned but not
// started, so the optimizer may move them.
func (f *fixture) loadTeam(t *testing.T, teamID string, queued int) []string {
	t.Helper()
	ids := make([]string, 0, queued)
	for i := 0; i < queued; i++ {
		id, err := f.tasks.Submit(task.Spec{Type: "build", Priority: 5})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if err := f.teams.IncrementLoad(teamID); err != nil {
			t.Fatalf("IncrementLoad(%s) failed: %v", teamID, err)
		}
		if err := f.tasks.Assign(id, teamID); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// TestRebalanceMovesQueuedWork reproduces the overload scenario: two teams
// at loads 9/10 and 1/10 with threshold 3. Queued work must move from the
// overloaded team to the underloaded one.
func TestRebalanceMovesQueuedWork(t *testing.T) {
	f := newFixture(t, WithLoadThreshold(3))

	overloaded := f.registerTeam(t, "team-a", 10)
	underloaded := f.registerTeam(t, "team-b", 10)

	f.loadTeam(t, overloaded, 9)
	f.loadTeam(t, underloaded, 1)

	var applied []event.OptimizationAppliedEvent
	f.bus.Subscribe("optimization.applied", func(e event.Event) {
		applied = append(applied, e.(event.OptimizationAppliedEvent))
	})

	summary := f.loop.RunOnce()

	if summary.Moves < 1 {
		t.Fatalf("Moves = %d, want at least 1", summary.Moves)
	}

	a, _ := f.teams.Get(overloaded)
	b, _ := f.teams.Get(underloaded)
	if a.CurrentLoad >= 9 {
		t.Errorf("overloaded team load = %d, want < 9", a.CurrentLoad)
	}
	if b.CurrentLoad <= 1 {
		t.Errorf("underloaded team load = %d, want > 1", b.CurrentLoad)
	}
	if a.CurrentLoad+b.CurrentLoad != 10 {
		t.Errorf("total load = %d, want conserved at 10", a.CurrentLoad+b.CurrentLoad)
	}

	moved := f.tasks.AssignedTo(underloaded)
	if len(moved) != b.CurrentLoad {
		t.Errorf("tasks assigned to %s = %d, want %d (matching load)", underloaded, len(moved), b.CurrentLoad)
	}

	if len(applied) != 1 {
		t.Fatalf("published %d optimization events, want 1", len(applied))
	}
	if applied[0].TasksMoved != summary.Moves {
		t.Errorf("event TasksMoved = %d, want %d", applied[0].TasksMoved, summary.Moves)
	}
}

// TestRebalanceWithinThreshold verifies balanced loads are left alone.
func TestRebalanceWithinThreshold(t *testing.T) {
	f := newFixture(t, WithLoadThreshold(3))

	a := f.registerTeam(t, "team-a", 10)
	b := f.registerTeam(t, "team-b", 10)
	f.loadTeam(t, a, 6)
	f.loadTeam(t, b, 4)

	summary := f.loop.RunOnce()
	if summary.Moves != 0 {
		t.Errorf("Moves = %d, want 0 within threshold", summary.Moves)
	}
}

// TestRebalanceNeverMovesRunningTasks verifies only queued work moves.
func TestRebalanceNeverMovesRunningTasks(t *testing.T) {
	f := newFixture(t, WithLoadThreshold(1))

	src := f.registerTeam(t, "team-a", 10)
	f.registerTeam(t, "team-b", 10)

	ids := f.loadTeam(t, src, 6)
	// Start every task: the team is overloaded but nothing is movable.
	for _, id := range ids {
		if err := f.tasks.Start(id); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}

	summary := f.loop.RunOnce()
	if summary.Moves != 0 {
		t.Errorf("Moves = %d, want 0 when all work is running", summary.Moves)
	}
	for _, id := range ids {
		tk, _ := f.tasks.Get(id)
		if tk.AssignedTeamID != src {
			t.Errorf("running task %s moved to %s", id, tk.AssignedTeamID)
		}
	}
}

// TestRebalanceSkipsCriticalTargets verifies critical teams receive nothing.
func TestRebalanceSkipsCriticalTargets(t *testing.T) {
	f := newFixture(t, WithLoadThreshold(1))

	src := f.registerTeam(t, "team-a", 10)
	down := f.registerTeam(t, "team-b", 10)
	f.loadTeam(t, src, 6)
	_, _ = f.teams.UpdateStatus(down, team.StatusCritical, time.Now())

	summary := f.loop.RunOnce()
	if summary.Moves != 0 {
		t.Errorf("Moves = %d, want 0 with only a critical target", summary.Moves)
	}
}

// TestCapacityTuning verifies the utilization thresholds grow and shrink
// capacity within bounds.
func TestCapacityTuning(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	f := newFixture(t, WithClock(clock), WithCapacityCooldown(5*time.Minute))

	hot, err := f.teams.Register(team.Descriptor{
		ID: "hot", Name: "hot", Capabilities: []string{"build"},
		MaxCapacity: 10, CapacityLimit: 12,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// Running work cannot be rebalanced away, so utilization stays at
	// 1.0 > 0.9 and the tuning path is isolated.
	for _, id := range f.loadTeam(t, hot, 10) {
		if err := f.tasks.Start(id); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}

	cold, err := f.teams.Register(team.Descriptor{
		ID: "cold", Name: "cold", Capabilities: []string{"build"},
		MaxCapacity: 10, MinCapacity: 2,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	// cold stays at load 0: utilization 0 < 0.3

	summary := f.loop.RunOnce()
	if summary.CapacityChanges != 2 {
		t.Fatalf("CapacityChanges = %d, want 2", summary.CapacityChanges)
	}

	hotTeam, _ := f.teams.Get(hot)
	if hotTeam.MaxCapacity != 11 {
		t.Errorf("hot capacity = %d, want 11", hotTeam.MaxCapacity)
	}
	coldTeam, _ := f.teams.Get(cold)
	if coldTeam.MaxCapacity != 9 {
		t.Errorf("cold capacity = %d, want 9", coldTeam.MaxCapacity)
	}

	// Cooldown: an immediate second pass changes nothing.
	if s := f.loop.RunOnce(); s.CapacityChanges != 0 {
		t.Errorf("CapacityChanges during cooldown = %d, want 0", s.CapacityChanges)
	}

	// Past the cooldown the loop may adjust again.
	advance(6 * time.Minute)
	if s := f.loop.RunOnce(); s.CapacityChanges == 0 {
		t.Error("CapacityChanges after cooldown = 0, want adjustments to resume")
	}
}

// TestCapacityNeverAboveLimit verifies the growth path respects the
// configured ceiling: a saturated team's capacity stops at CapacityLimit
// no matter how many passes run.
func TestCapacityNeverAboveLimit(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	f := newFixture(t, WithClock(clock), WithCapacityCooldown(0))

	// saturate fills the team with running work so its utilization stays
	// at 1.0 even as capacity grows between passes.
	saturate := func(teamID string) {
		t.Helper()
		for f.teams.IncrementLoad(teamID) == nil {
			tid, err := f.tasks.Submit(task.Spec{Type: "build", Priority: 5})
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			if err := f.tasks.Assign(tid, teamID); err != nil {
				t.Fatalf("Assign failed: %v", err)
			}
			if err := f.tasks.Start(tid); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
		}
	}

	id, err := f.teams.Register(team.Descriptor{
		ID: "busy", Name: "busy", Capabilities: []string{"build"},
		MaxCapacity: 2, CapacityLimit: 4,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		saturate(id)
		f.loop.RunOnce()
		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()
	}

	tm, _ := f.teams.Get(id)
	if tm.MaxCapacity != 4 {
		t.Errorf("capacity = %d, want ceiling at CapacityLimit 4", tm.MaxCapacity)
	}

	// A team registered without an explicit limit never grows at all.
	pinned, err := f.teams.Register(team.Descriptor{
		ID: "pinned", Name: "pinned", Capabilities: []string{"build"}, MaxCapacity: 2,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		saturate(pinned)
		f.loop.RunOnce()
		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()
	}
	tm, _ = f.teams.Get(pinned)
	if tm.MaxCapacity != 2 {
		t.Errorf("capacity = %d, want pinned at registered 2", tm.MaxCapacity)
	}
}

// TestCapacityNeverBelowMin verifies the shrink path respects MinCapacity.
func TestCapacityNeverBelowMin(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	f := newFixture(t, WithClock(clock), WithCapacityCooldown(0))

	id, err := f.teams.Register(team.Descriptor{
		ID: "small", Name: "small", Capabilities: []string{"build"},
		MaxCapacity: 3, MinCapacity: 2,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		f.loop.RunOnce()
		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()
	}

	tm, _ := f.teams.Get(id)
	if tm.MaxCapacity != 2 {
		t.Errorf("capacity = %d, want floor at MinCapacity 2", tm.MaxCapacity)
	}
}

// TestRunOnceQuietWhenNothingChanges verifies no event is published for a
// no-op pass.
func TestRunOnceQuietWhenNothingChanges(t *testing.T) {
	f := newFixture(t)

	events := 0
	f.bus.Subscribe("optimization.applied", func(e event.Event) { events++ })

	a := f.registerTeam(t, "team-a", 10)
	f.loadTeam(t, a, 5) // utilization 0.5, no rebalance partner

	f.loop.RunOnce()
	if events != 0 {
		t.Errorf("published %d events for a no-op pass, want 0", events)
	}
}

// TestRebalanceManyTeams exercises a wider spread of loads.
func TestRebalanceManyTeams(t *testing.T) {
	f := newFixture(t, WithLoadThreshold(2))

	loads := []int{8, 5, 1, 0}
	teamIDs := make([]string, len(loads))
	for i, n := range loads {
		teamIDs[i] = f.registerTeam(t, fmt.Sprintf("team-%d", i), 10)
		f.loadTeam(t, teamIDs[i], n)
	}
	// mean 3.5; team-0 deviates by 4.5 > 2 and sheds work.

	summary := f.loop.RunOnce()
	if summary.Moves == 0 {
		t.Fatal("expected moves with an 8/5/1/0 load spread")
	}

	src, _ := f.teams.Get(teamIDs[0])
	if src.CurrentLoad > 4 {
		t.Errorf("team-0 load = %d, want brought near the mean", src.CurrentLoad)
	}

	total := 0
	for _, id := range teamIDs {
		tm, _ := f.teams.Get(id)
		total += tm.CurrentLoad
	}
	if total != 14 {
		t.Errorf("total load = %d, want conserved at 14", total)
	}
}
