package config

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProject(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProject() error {
	info, err := os.Stat(c.Project.Root)
	if err != nil {
		return fmt.Errorf("project.root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project.root %q is not a directory", c.Project.Root)
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if err := ensurePositiveMap(map[string]int{
		"daemon.dispatch_timeout_seconds":     c.Daemon.DispatchTimeoutSeconds,
		"daemon.dial_timeout_ms":              c.Daemon.DialTimeoutMS,
		"daemon.maintenance_interval_minutes": c.Daemon.MaintenanceIntervalMinutes,
	}); err != nil {
		return err
	}
	if c.Daemon.MetricsBind != "" {
		if _, _, err := net.SplitHostPort(c.Daemon.MetricsBind); err != nil {
			return fmt.Errorf("daemon.metrics_bind: %w", err)
		}
	}
	return nil
}

func (c *Config) validateWatcher() error {
	switch c.Watcher.Isolation {
	case WatcherIsolationProcess, WatcherIsolationGoroutine:
	default:
		return fmt.Errorf("watcher.isolation must be %q or %q, got %q", WatcherIsolationProcess, WatcherIsolationGoroutine, c.Watcher.Isolation)
	}
	if c.Watcher.RetryAttempts < 0 {
		return errors.New("watcher.retry_attempts must be >= 0")
	}
	if c.Watcher.RetryIntervalMS < 0 {
		return errors.New("watcher.retry_interval_ms must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
