package config

import (
	"fmt"
	"time"
)

// ============================================================================
// JOBS
// ============================================================================

// JobsConfig configures the durable background job queue.
//
// Jobs live in the same database as the metadata store, so enqueueing a task
// and recording the status change it belongs to happen in one place.
type JobsConfig struct {
	// Workers is the number of concurrent task executors.
	Workers int `yaml:"workers,omitempty"`

	// PollInterval is how often idle workers check for pending tasks.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// MaxRetries before a task is marked permanently failed.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`

	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay,omitempty"`

	// TaskTimeout is the advisory deadline passed to task handlers.
	TaskTimeout time.Duration `yaml:"task_timeout,omitempty"`

	// Retention is how long finished tasks are kept before the janitor
	// removes them.
	Retention time.Duration `yaml:"retention,omitempty"`

	// JanitorSchedule is the cron expression for cleanup runs.
	JanitorSchedule string `yaml:"janitor_schedule,omitempty"`
}

// SetDefaults applies default values.
func (c *JobsConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = time.Hour
	}
	if c.Retention == 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = "@hourly"
	}
}

// Validate checks the configuration for errors.
func (c *JobsConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry_base_delay must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry_max_delay must be at least retry_base_delay")
	}
	return nil
}
