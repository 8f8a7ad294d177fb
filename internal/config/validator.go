package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/silhouette/hive/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "dispatch.interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateDispatch()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateOptimize()...)
	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	if c.Scheduler.RetentionMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.retention_minutes",
			Value:   c.Scheduler.RetentionMinutes,
			Message: "must be positive",
		})
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.default_max_retries",
			Value:   c.Scheduler.DefaultMaxRetries,
			Message: "must be >= 0",
		})
	}

	return errors
}

func (c *Config) validateDispatch() []ValidationError {
	var errors []ValidationError

	if c.Dispatch.IntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.interval_ms",
			Value:   c.Dispatch.IntervalMs,
			Message: "must be positive",
		})
	}
	if c.Dispatch.TaskTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.task_timeout_seconds",
			Value:   c.Dispatch.TaskTimeoutSeconds,
			Message: "must be positive",
		})
	}
	for taskType, seconds := range c.Dispatch.TypeTimeoutSeconds {
		if seconds <= 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("dispatch.type_timeout_seconds.%s", taskType),
				Value:   seconds,
				Message: "must be positive",
			})
		}
	}
	if c.Dispatch.MaxQueueTimeMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.max_queue_time_minutes",
			Value:   c.Dispatch.MaxQueueTimeMinutes,
			Message: "must be >= 0 (0 disables the bound)",
		})
	}

	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.BaseDelaySeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.base_delay_seconds",
			Value:   c.Retry.BaseDelaySeconds,
			Message: "must be positive",
		})
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay_seconds",
			Value:   c.Retry.MaxDelaySeconds,
			Message: "must be >= retry.base_delay_seconds",
		})
	}
	for taskType, limit := range c.Retry.MaxRetriesByType {
		if limit < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("retry.max_retries_by_type.%s", taskType),
				Value:   limit,
				Message: "must be >= 0",
			})
		}
	}

	return errors
}

func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError

	if c.Health.IntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "health.interval_seconds",
			Value:   c.Health.IntervalSeconds,
			Message: "must be positive",
		})
	}
	if c.Health.SuccessRateThreshold <= 0 || c.Health.SuccessRateThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "health.success_rate_threshold",
			Value:   c.Health.SuccessRateThreshold,
			Message: "must be in (0, 1]",
		})
	}

	return errors
}

func (c *Config) validateOptimize() []ValidationError {
	var errors []ValidationError

	if c.Optimize.IntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "optimize.interval_seconds",
			Value:   c.Optimize.IntervalSeconds,
			Message: "must be positive",
		})
	}
	if c.Optimize.LoadThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "optimize.load_threshold",
			Value:   c.Optimize.LoadThreshold,
			Message: "must be positive",
		})
	}
	if c.Optimize.CapacityCooldownMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "optimize.capacity_cooldown_minutes",
			Value:   c.Optimize.CapacityCooldownMinutes,
			Message: "must be >= 0",
		})
	}

	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError

	if c.State.Enabled && c.State.SnapshotIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "state.snapshot_interval_seconds",
			Value:   c.State.SnapshotIntervalSeconds,
			Message: "must be positive when state persistence is enabled",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(logging.ValidLevels(), strings.ToUpper(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}

	return errors
}
