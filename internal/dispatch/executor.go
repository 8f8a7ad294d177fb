package dispatch

import (
	"context"

	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
)

// Executor performs the actual work of a task on behalf of a team. The
// scheduler treats it as opaque: a nil error completes the task, any other
// error is routed through the retry manager. Executors should honor ctx
// cancellation, but the dispatcher does not depend on it; an uncooperative
// executor is abandoned when its deadline passes.
type Executor interface {
	Execute(ctx context.Context, t task.Task, tm team.Team) (any, error)
}

// Func adapts an ordinary function to the Executor interface.
type Func func(ctx context.Context, t task.Task, tm team.Team) (any, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, t task.Task, tm team.Team) (any, error) {
	return f(ctx, t, tm)
}
