package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvConfigPath names the environment variable that overrides config discovery.
const EnvConfigPath = "BUILDD_CONFIG"

// Paths contains runtime, state, and log directory configuration.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// Project describes the tree the daemon serves.
type Project struct {
	Root             string   `toml:"root"`
	DescriptionFiles []string `toml:"description_files"`
}

// Engine configures the external build engine command.
type Engine struct {
	Command         string   `toml:"command"`
	Args            []string `toml:"args"`
	ReconfigureFlag string   `toml:"reconfigure_flag"`
	RefreshFlag     string   `toml:"refresh_flag"`
}

// Daemon contains timing and maintenance configuration for the daemon process.
type Daemon struct {
	DebounceMS                 int    `toml:"debounce_ms"`
	DispatchTimeoutSeconds     int    `toml:"dispatch_timeout_seconds"`
	DialTimeoutMS              int    `toml:"dial_timeout_ms"`
	HistoryRetentionDays       int    `toml:"history_retention_days"`
	MaintenanceIntervalMinutes int    `toml:"maintenance_interval_minutes"`
	MetricsBind                string `toml:"metrics_bind"`
}

// Watcher configures the file change watcher.
type Watcher struct {
	Isolation       string   `toml:"isolation"`
	IgnoreDirs      []string `toml:"ignore_dirs"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryIntervalMS int      `toml:"retry_interval_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for buildd.
//
// Configuration sections by subsystem:
//   - Paths: socket/lock, history database, and log directories
//   - Project: project root and build description file names
//   - Engine: the external build engine command line
//   - Daemon: debounce window, client timeouts, maintenance, metrics
//   - Watcher: isolation mode, ignored directories, reconnect policy
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Project Project `toml:"project"`
	Engine  Engine  `toml:"engine"`
	Daemon  Daemon  `toml:"daemon"`
	Watcher Watcher `toml:"watcher"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("buildd.toml")
	if err != nil {
		return "", false, err
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RuntimeDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return os.Chmod(c.Paths.RuntimeDir, 0o700)
}

// DebounceWindow returns the period after a rebuild during which change reports are ignored.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Daemon.DebounceMS) * time.Millisecond
}

// DispatchTimeout returns how long a client waits for a dispatch reply before treating it as "no reply".
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Daemon.DispatchTimeoutSeconds) * time.Second
}

// DialTimeout bounds connecting to the daemon socket.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Daemon.DialTimeoutMS) * time.Millisecond
}

// MaintenanceInterval returns how often history and log pruning runs.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Daemon.MaintenanceIntervalMinutes) * time.Minute
}

// WatcherRetryInterval returns the fixed delay between watcher reconnect attempts.
func (c *Config) WatcherRetryInterval() time.Duration {
	return time.Duration(c.Watcher.RetryIntervalMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultRuntimeDir() string {
	if base, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "buildd")
	}
	return "~/.local/state/buildd/run"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
