// Package config defines the hive configuration, loaded through viper
// from a YAML file and HIVE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete hive configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Health    HealthConfig    `mapstructure:"health"`
	Optimize  OptimizeConfig  `mapstructure:"optimize"`
	State     StateConfig     `mapstructure:"state"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig controls facade-level behavior
type SchedulerConfig struct {
	// RetentionMinutes is how long terminal tasks are kept before pruning
	RetentionMinutes int `mapstructure:"retention_minutes"`
	// DefaultMaxRetries applies to task specs that do not set their own limit
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
}

// DispatchConfig controls the dispatch loop
type DispatchConfig struct {
	// IntervalMs is how often the dispatch loop runs when idle (in milliseconds)
	IntervalMs int `mapstructure:"interval_ms"`
	// TaskTimeoutSeconds is the deadline for each execution attempt
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
	// TypeTimeoutSeconds overrides the attempt deadline per task type
	TypeTimeoutSeconds map[string]int `mapstructure:"type_timeout_seconds"`
	// MaxQueueTimeMinutes bounds how long a task may sit pending (0 = unbounded)
	MaxQueueTimeMinutes int `mapstructure:"max_queue_time_minutes"`
}

// RetryConfig controls retry backoff
type RetryConfig struct {
	// BaseDelaySeconds is the delay before the first retry
	BaseDelaySeconds int `mapstructure:"base_delay_seconds"`
	// MaxDelaySeconds caps the exponential backoff growth
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
	// MaxRetriesByType overrides the retry limit for specific task types
	MaxRetriesByType map[string]int `mapstructure:"max_retries_by_type"`
}

// HealthConfig controls the health monitor
type HealthConfig struct {
	// IntervalSeconds is how often teams are probed
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// SuccessRateThreshold demotes a team to critical below this value
	SuccessRateThreshold float64 `mapstructure:"success_rate_threshold"`
}

// OptimizeConfig controls the optimization loop
type OptimizeConfig struct {
	// IntervalSeconds is how often the optimizer runs
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// LoadThreshold is how far a team's load may deviate from the mean
	// before rebalancing kicks in
	LoadThreshold int `mapstructure:"load_threshold"`
	// CapacityCooldownMinutes is the minimum time between capacity
	// adjustments on the same team
	CapacityCooldownMinutes int `mapstructure:"capacity_cooldown_minutes"`
}

// StateConfig controls state persistence
type StateConfig struct {
	// Enabled turns on periodic JSON snapshots
	Enabled bool `mapstructure:"enabled"`
	// Dir is where snapshots are written. Empty means ~/.hive/state
	Dir string `mapstructure:"dir"`
	// SnapshotIntervalSeconds is how often snapshots are written
	SnapshotIntervalSeconds int `mapstructure:"snapshot_interval_seconds"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the log level: "DEBUG", "INFO", "WARN", "ERROR"
	Level string `mapstructure:"level"`
	// Dir is where log files are written. Empty means stderr
	Dir string `mapstructure:"dir"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			RetentionMinutes:  60,
			DefaultMaxRetries: 3,
		},
		Dispatch: DispatchConfig{
			IntervalMs:          500,
			TaskTimeoutSeconds:  120,
			TypeTimeoutSeconds:  map[string]int{},
			MaxQueueTimeMinutes: 10,
		},
		Retry: RetryConfig{
			BaseDelaySeconds: 2,
			MaxDelaySeconds:  300,
			MaxRetriesByType: map[string]int{},
		},
		Health: HealthConfig{
			IntervalSeconds:      30,
			SuccessRateThreshold: 0.5,
		},
		Optimize: OptimizeConfig{
			IntervalSeconds:         60,
			LoadThreshold:           2,
			CapacityCooldownMinutes: 5,
		},
		State: StateConfig{
			Enabled:                 false,
			Dir:                     "",
			SnapshotIntervalSeconds: 30,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			Dir:   "",
		},
	}
}

// Interval returns the dispatch interval as a time.Duration
func (c *DispatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// TaskTimeout returns the attempt deadline as a time.Duration
func (c *DispatchConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// TypeTimeouts returns the per-type deadlines as time.Durations
func (c *DispatchConfig) TypeTimeouts() map[string]time.Duration {
	if len(c.TypeTimeoutSeconds) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.TypeTimeoutSeconds))
	for k, v := range c.TypeTimeoutSeconds {
		out[k] = time.Duration(v) * time.Second
	}
	return out
}

// MaxQueueTime returns the queue-time bound as a time.Duration (0 means unbounded)
func (c *DispatchConfig) MaxQueueTime() time.Duration {
	return time.Duration(c.MaxQueueTimeMinutes) * time.Minute
}

// BaseDelay returns the retry base delay as a time.Duration
func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the retry delay cap as a time.Duration
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// Interval returns the health check interval as a time.Duration
func (c *HealthConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Interval returns the optimizer interval as a time.Duration
func (c *OptimizeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// CapacityCooldown returns the per-team adjustment cooldown as a time.Duration
func (c *OptimizeConfig) CapacityCooldown() time.Duration {
	return time.Duration(c.CapacityCooldownMinutes) * time.Minute
}

// Retention returns the terminal-task retention window as a time.Duration
func (c *SchedulerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// SnapshotInterval returns the snapshot cadence as a time.Duration
func (c *StateConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// ResolveDir returns the state directory, defaulting under the user's home
func (c *StateConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hive/state"
	}
	return filepath.Join(home, ".hive", "state")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("scheduler.retention_minutes", defaults.Scheduler.RetentionMinutes)
	viper.SetDefault("scheduler.default_max_retries", defaults.Scheduler.DefaultMaxRetries)

	viper.SetDefault("dispatch.interval_ms", defaults.Dispatch.IntervalMs)
	viper.SetDefault("dispatch.task_timeout_seconds", defaults.Dispatch.TaskTimeoutSeconds)
	viper.SetDefault("dispatch.type_timeout_seconds", defaults.Dispatch.TypeTimeoutSeconds)
	viper.SetDefault("dispatch.max_queue_time_minutes", defaults.Dispatch.MaxQueueTimeMinutes)

	viper.SetDefault("retry.base_delay_seconds", defaults.Retry.BaseDelaySeconds)
	viper.SetDefault("retry.max_delay_seconds", defaults.Retry.MaxDelaySeconds)
	viper.SetDefault("retry.max_retries_by_type", defaults.Retry.MaxRetriesByType)

	viper.SetDefault("health.interval_seconds", defaults.Health.IntervalSeconds)
	viper.SetDefault("health.success_rate_threshold", defaults.Health.SuccessRateThreshold)

	viper.SetDefault("optimize.interval_seconds", defaults.Optimize.IntervalSeconds)
	viper.SetDefault("optimize.load_threshold", defaults.Optimize.LoadThreshold)
	viper.SetDefault("optimize.capacity_cooldown_minutes", defaults.Optimize.CapacityCooldownMinutes)

	viper.SetDefault("state.enabled", defaults.State.Enabled)
	viper.SetDefault("state.dir", defaults.State.Dir)
	viper.SetDefault("state.snapshot_interval_seconds", defaults.State.SnapshotIntervalSeconds)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hive"
	}
	return filepath.Join(home, ".config", "hive")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
