package config

import (
	"strings"
	"testing"
)

// invalidate applies a single mutation to an otherwise valid config.
func invalidate(mutate func(*Config)) *Config {
	cfg := Default()
	mutate(cfg)
	return cfg
}

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "zero retention",
			mutate:    func(c *Config) { c.Scheduler.RetentionMinutes = 0 },
			wantField: "scheduler.retention_minutes",
		},
		{
			name:      "negative max retries",
			mutate:    func(c *Config) { c.Scheduler.DefaultMaxRetries = -1 },
			wantField: "scheduler.default_max_retries",
		},
		{
			name:      "zero dispatch interval",
			mutate:    func(c *Config) { c.Dispatch.IntervalMs = 0 },
			wantField: "dispatch.interval_ms",
		},
		{
			name:      "zero task timeout",
			mutate:    func(c *Config) { c.Dispatch.TaskTimeoutSeconds = 0 },
			wantField: "dispatch.task_timeout_seconds",
		},
		{
			name:      "bad type timeout",
			mutate:    func(c *Config) { c.Dispatch.TypeTimeoutSeconds = map[string]int{"deploy": -5} },
			wantField: "dispatch.type_timeout_seconds.deploy",
		},
		{
			name:      "zero retry base delay",
			mutate:    func(c *Config) { c.Retry.BaseDelaySeconds = 0 },
			wantField: "retry.base_delay_seconds",
		},
		{
			name:      "max delay below base",
			mutate:    func(c *Config) { c.Retry.MaxDelaySeconds = 1 },
			wantField: "retry.max_delay_seconds",
		},
		{
			name:      "zero health interval",
			mutate:    func(c *Config) { c.Health.IntervalSeconds = 0 },
			wantField: "health.interval_seconds",
		},
		{
			name:      "threshold above one",
			mutate:    func(c *Config) { c.Health.SuccessRateThreshold = 1.1 },
			wantField: "health.success_rate_threshold",
		},
		{
			name:      "zero threshold",
			mutate:    func(c *Config) { c.Health.SuccessRateThreshold = 0 },
			wantField: "health.success_rate_threshold",
		},
		{
			name:      "zero load threshold",
			mutate:    func(c *Config) { c.Optimize.LoadThreshold = 0 },
			wantField: "optimize.load_threshold",
		},
		{
			name: "snapshot interval with state enabled",
			mutate: func(c *Config) {
				c.State.Enabled = true
				c.State.SnapshotIntervalSeconds = 0
			},
			wantField: "state.snapshot_interval_seconds",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Logging.Level = "LOUD" },
			wantField: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := invalidate(tt.mutate).Validate()
			if len(errs) == 0 {
				t.Fatal("Validate found no errors")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing field %s", errs, tt.wantField)
			}
		})
	}
}

func TestValidateAccumulates(t *testing.T) {
	cfg := invalidate(func(c *Config) {
		c.Dispatch.IntervalMs = 0
		c.Health.IntervalSeconds = 0
		c.Logging.Level = "bogus"
	})

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("Validate returned %d errors, want all 3", len(errs))
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: 0, Message: "must be positive"},
		{Field: "c.d", Value: "x", Message: "unknown value"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("message %q should count the errors", msg)
	}
	if !strings.Contains(msg, "a.b") || !strings.Contains(msg, "c.d") {
		t.Errorf("message %q should name both fields", msg)
	}

	single := ValidationErrors{errs[0]}
	if single.Error() != errs[0].Error() {
		t.Error("single-element collection should render as the bare error")
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty collection should render empty")
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	cfg := invalidate(func(c *Config) { c.Logging.Level = "debug" })
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("lowercase level rejected: %v", errs)
	}
}
