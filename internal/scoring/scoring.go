// Package scoring ranks teams for a task using a weighted composite of
// capability match, available headroom, historical success rate, and a
// priority bonus. Scores are deterministic: given the same task and team
// snapshots, Rank always produces the same ordering.
package scoring

import (
	"math"
	"sort"

	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// Weights for the composite score. They sum to 1.0.
const (
	weightCapability = 0.40
	weightHeadroom   = 0.30
	weightSuccess    = 0.20
	weightPriority   = 0.10
)

// Engine computes team scores.
type Engine struct{}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Candidate pairs a team snapshot with its computed score for one task.
type Candidate struct {
	Team  team.Team
	Score float64
}

// Score computes the composite score of a team for a task.
//
// Capability: fraction of the team's capability tags that appear in the
// task's required set. A specialist team matching all its tags outranks a
// generalist that matches only some.
// Headroom: 1 - currentLoad/maxCapacity.
// Success: the team's success-rate moving average.
// Priority bonus: min(priority/10, 1), so higher-priority tasks bid a
// proportionally larger bonus.
func (e *Engine) Score(t task.Task, tm team.Team) float64 {
	required := t.RequiredCapabilities()

	matched := 0
	for _, c := range tm.Capabilities {
		for _, r := range required {
			if c == r {
				matched++
				break
			}
		}
	}
	capability := 0.0
	if len(tm.Capabilities) > 0 {
		capability = float64(matched) / float64(len(tm.Capabilities))
	}

	headroom := 1.0 - tm.Utilization()
	if headroom < 0 {
		headroom = 0
	}

	bonus := math.Min(float64(t.Priority)/10, 1)
	if bonus < 0 {
		bonus = 0
	}

	return weightCapability*capability +
		weightHeadroom*headroom +
		weightSuccess*tm.Metrics.SuccessRate +
		weightPriority*bonus
}

// Rank scores every team for the task and returns candidates ordered best
// first. Ties break toward lower current load, then earlier registration,
// so the ordering is total and stable across calls.
func (e *Engine) Rank(t task.Task, teams []team.Team) []Candidate {
	out := make([]Candidate, 0, len(teams))
	for _, tm := range teams {
		out = append(out, Candidate{Team: tm, Score: e.Score(t, tm)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Team.CurrentLoad != out[j].Team.CurrentLoad {
			return out[i].Team.CurrentLoad < out[j].Team.CurrentLoad
		}
		return out[i].Team.Seq < out[j].Team.Seq
	})
	return out
}

// Best returns the highest-ranked team for the task, or false when no
// teams were offered.
func (e *Engine) Best(t task.Task, teams []team.Team) (team.Team, float64, bool) {
	ranked := e.Rank(t, teams)
	if len(ranked) == 0 {
		return team.Team{}, 0, false
	}
	return ranked[0].Team, ranked[0].Score, true
}
