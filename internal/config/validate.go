package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.ConsumerWorkers < 1 || c.Scheduler.ConsumerWorkers > maxConsumerWorkers {
		return fmt.Errorf("scheduler.consumer_workers must be between 1 and %d", maxConsumerWorkers)
	}
	if c.Scheduler.MonitorInterval < minimumMonitorIntervalSeconds {
		return errors.New("scheduler.monitor_interval must be positive")
	}
	if c.Scheduler.ErrorRetryInterval < minimumErrorRetryIntervalValue {
		return errors.New("scheduler.error_retry_interval must be positive")
	}
	if c.Scheduler.ShutdownTimeout < minimumShutdownTimeoutSeconds {
		return errors.New("scheduler.shutdown_timeout must be positive")
	}
	if _, err := cron.ParseStandard(c.Scheduler.SweepSchedule); err != nil {
		return fmt.Errorf("scheduler.sweep_schedule %q: %w", c.Scheduler.SweepSchedule, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
