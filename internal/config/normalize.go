package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeProject(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeDaemon()
	c.normalizeWatcher()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir()
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeProject() error {
	root := strings.TrimSpace(c.Project.Root)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("project.root: %w", err)
		}
		root = wd
	}
	var err error
	if c.Project.Root, err = expandPath(root); err != nil {
		return fmt.Errorf("project.root: %w", err)
	}
	c.Project.DescriptionFiles = normalizeList(c.Project.DescriptionFiles, true)
	if len(c.Project.DescriptionFiles) == 0 {
		c.Project.DescriptionFiles = defaultDescriptionFiles()
	}
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.Command = strings.TrimSpace(c.Engine.Command)
	if c.Engine.Command == "" {
		c.Engine.Command = defaultEngineCommand
	}
	c.Engine.ReconfigureFlag = strings.TrimSpace(c.Engine.ReconfigureFlag)
	c.Engine.RefreshFlag = strings.TrimSpace(c.Engine.RefreshFlag)
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.DebounceMS < 0 {
		c.Daemon.DebounceMS = 0
	}
	if c.Daemon.DispatchTimeoutSeconds == 0 {
		c.Daemon.DispatchTimeoutSeconds = defaultDispatchTimeoutSeconds
	}
	if c.Daemon.DialTimeoutMS == 0 {
		c.Daemon.DialTimeoutMS = defaultDialTimeoutMS
	}
	if c.Daemon.MaintenanceIntervalMinutes == 0 {
		c.Daemon.MaintenanceIntervalMinutes = defaultMaintenanceIntervalMinutes
	}
	if c.Daemon.HistoryRetentionDays < 0 {
		c.Daemon.HistoryRetentionDays = 0
	}
	c.Daemon.MetricsBind = strings.TrimSpace(c.Daemon.MetricsBind)
}

func (c *Config) normalizeWatcher() {
	c.Watcher.Isolation = strings.ToLower(strings.TrimSpace(c.Watcher.Isolation))
	if c.Watcher.Isolation == "" {
		c.Watcher.Isolation = defaultWatcherIsolation
	}
	if c.Watcher.IgnoreDirs == nil {
		c.Watcher.IgnoreDirs = defaultIgnoreDirs()
	}
	c.Watcher.IgnoreDirs = normalizeList(c.Watcher.IgnoreDirs, false)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func normalizeList(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
