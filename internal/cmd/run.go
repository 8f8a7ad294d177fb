package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/silhouette/hive/internal/config"
	"github.com/silhouette/hive/internal/dispatch"
	"github.com/silhouette/hive/internal/event"
	"github.com/silhouette/hive/internal/logging"
	"github.com/silhouette/hive/internal/retry"
	"github.com/silhouette/hive/internal/scheduler"
	"github.com/silhouette/hive/internal/store"
	"github.com/silhouette/hive/internal/task"
	"github.com/silhouette/hive/internal/team"
	"github.com/silhouette/hive/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler with a team roster",
	Long: `Start the scheduler with teams loaded from a YAML roster file.

Tasks can be seeded from a workload file; without one the scheduler idles
until interrupted. Work is simulated: each attempt sleeps for the duration
given in the task payload (sleep_ms), with an optional injected failure
rate for exercising retries.`,
	RunE: runRun,
}

var (
	runRoster   string  // Path to the team roster YAML
	runWorkload string  // Optional path to a workload YAML
	runFailRate float64 // Simulated fraction of attempts that fail
	runVerbose  bool    // Print every lifecycle event
)

func init() {
	runCmd.Flags().StringVar(&runRoster, "roster", "", "team roster YAML file (required)")
	runCmd.Flags().StringVar(&runWorkload, "workload", "", "workload YAML file of task specs to submit")
	runCmd.Flags().Float64Var(&runFailRate, "fail-rate", 0, "fraction of simulated attempts that fail (0..1)")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "print every lifecycle event")
	_ = runCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(runCmd)
}

// workloadFile is the YAML shape of a --workload file.
type workloadFile struct {
	Tasks []task.Spec `yaml:"tasks"`
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	descriptors, err := team.LoadRoster(runRoster)
	if err != nil {
		return err
	}

	var st store.Store
	if cfg.State.Enabled {
		lock, err := store.AcquireDirLock(cfg.State.ResolveDir())
		if err != nil {
			return fmt.Errorf("locking state dir: %w", err)
		}
		defer func() { _ = lock.Release() }()

		fs, err := store.NewFileStore(cfg.State.ResolveDir())
		if err != nil {
			return fmt.Errorf("opening state store: %w", err)
		}
		st = fs
	}

	sched, err := scheduler.New(scheduler.Config{
		Executor:          simulatedExecutor(runFailRate),
		Logger:            logger,
		Store:             st,
		DispatchInterval:  cfg.Dispatch.Interval(),
		TaskTimeout:       cfg.Dispatch.TaskTimeout(),
		TypeTimeouts:      cfg.Dispatch.TypeTimeouts(),
		MaxQueueTime:      cfg.Dispatch.MaxQueueTime(),
		RetryPolicy:       retry.Policy{BaseDelay: cfg.Retry.BaseDelay(), MaxDelay: cfg.Retry.MaxDelay()},
		DefaultMaxRetries: cfg.Scheduler.DefaultMaxRetries,
		MaxRetriesByType:  cfg.Retry.MaxRetriesByType,
		HealthInterval:    cfg.Health.Interval(),
		HealthThreshold:   cfg.Health.SuccessRateThreshold,
		OptimizeInterval:  cfg.Optimize.Interval(),
		LoadThreshold:     cfg.Optimize.LoadThreshold,
		CapacityCooldown:  cfg.Optimize.CapacityCooldown(),
		RetentionAge:      cfg.Scheduler.Retention(),
		SnapshotInterval:  cfg.State.SnapshotInterval(),
	})
	if err != nil {
		return err
	}

	for _, d := range descriptors {
		if _, err := sched.RegisterTeam(d); err != nil {
			return fmt.Errorf("registering team %s: %w", d.Name, err)
		}
	}
	fmt.Println(titleStyle.Render("hive") + labelStyle.Render(fmt.Sprintf("  %d teams registered", len(descriptors))))

	if runVerbose {
		sched.Bus().SubscribeAll(printEvent)
	}

	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if runWorkload != "" {
		n, err := submitWorkload(sched, runWorkload)
		if err != nil {
			return err
		}
		fmt.Println(labelStyle.Render(fmt.Sprintf("submitted %d tasks from %s", n, runWorkload)))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println()
			printSummary(sched)
			return nil
		case <-ticker.C:
			m := sched.Metrics()
			if runWorkload != "" && m.QueueLength == 0 && m.ActiveTasks == 0 {
				printSummary(sched)
				return nil
			}
		}
	}
}

// submitWorkload reads a workload file and submits every task spec.
func submitWorkload(sched *scheduler.Scheduler, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading workload %s: %w", path, err)
	}
	var wf workloadFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return 0, fmt.Errorf("parsing workload %s: %w", path, err)
	}

	submitted := 0
	for i, spec := range wf.Tasks {
		if _, err := sched.Submit(spec); err != nil {
			return submitted, fmt.Errorf("workload task %d: %w", i, err)
		}
		submitted++
	}
	return submitted, nil
}

// simulatedExecutor sleeps for the payload's sleep_ms (default 50ms) and
// fails a failRate fraction of attempts.
func simulatedExecutor(failRate float64) dispatch.Executor {
	return dispatch.Func(func(ctx context.Context, t task.Task, tm team.Team) (any, error) {
		sleep := 50 * time.Millisecond
		if payload, ok := t.Payload.(map[string]any); ok {
			if ms, ok := payload["sleep_ms"].(int); ok && ms > 0 {
				sleep = time.Duration(ms) * time.Millisecond
			}
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if failRate > 0 && rand.Float64() < failRate {
			return nil, fmt.Errorf("simulated failure")
		}
		return map[string]any{"handled_by": tm.Name}, nil
	})
}

// printEvent writes one line per lifecycle event.
func printEvent(e event.Event) {
	switch ev := e.(type) {
	case event.TaskAssignedEvent:
		fmt.Printf("%s task=%s team=%s score=%.2f\n",
			labelStyle.Render("assigned "), util.ShortID(ev.TaskID), ev.TeamID, ev.Score)
	case event.TaskCompletedEvent:
		fmt.Printf("%s task=%s team=%s took=%s\n",
			okStyle.Render("completed"), util.ShortID(ev.TaskID), ev.TeamID, ev.Duration)
	case event.TaskRetryingEvent:
		fmt.Printf("%s task=%s attempt=%d\n",
			warnStyle.Render("retrying "), util.ShortID(ev.TaskID), ev.RetryCount)
	case event.TaskFailedEvent:
		fmt.Printf("%s task=%s reason=%s\n",
			errStyle.Render("failed   "), util.ShortID(ev.TaskID), util.TruncateString(ev.Reason, 72))
	case event.TeamStatusChangedEvent:
		fmt.Printf("%s team=%s %s -> %s\n",
			warnStyle.Render("health   "), ev.TeamID, ev.PreviousStatus, ev.CurrentStatus)
	case event.OptimizationAppliedEvent:
		fmt.Printf("%s moves=%d capacity_changes=%d\n",
			labelStyle.Render("optimize "), ev.TasksMoved, ev.CapacityChanges)
	}
}

// printSummary renders final scheduler metrics.
func printSummary(sched *scheduler.Scheduler) {
	m := sched.Metrics()

	fmt.Println(titleStyle.Render("summary"))
	fmt.Printf("  %s %d\n", labelStyle.Render("completed:"), m.CompletedTotal)
	fmt.Printf("  %s %d\n", labelStyle.Render("failed:   "), m.FailedTotal)
	fmt.Printf("  %s %d\n", labelStyle.Render("queued:   "), m.QueueLength)
	fmt.Printf("  %s %s\n", labelStyle.Render("avg time: "), m.AvgResponseTime)
	fmt.Printf("  %s %.2f\n", labelStyle.Render("success:  "), m.SuccessRate)

	for _, tm := range sched.Teams() {
		status := okStyle.Render(tm.Status.String())
		if tm.Status != team.StatusHealthy {
			status = errStyle.Render(tm.Status.String())
		}
		fmt.Printf("  team %-20s %s load=%d/%d done=%d\n",
			tm.Name, status, tm.CurrentLoad, tm.MaxCapacity, tm.Metrics.TasksCompleted)
	}
}
