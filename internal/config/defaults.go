package config

const (
	defaultConfigPath                 = "~/.config/buildd/config.toml"
	defaultStateDir                   = "~/.local/share/buildd"
	defaultLogDir                     = "~/.local/share/buildd/logs"
	defaultEngineCommand              = "b2"
	defaultDebounceMS                 = 1000
	defaultDispatchTimeoutSeconds     = 25
	defaultDialTimeoutMS              = 2000
	defaultHistoryRetentionDays       = 30
	defaultMaintenanceIntervalMinutes = 60
	defaultWatcherIsolation           = WatcherIsolationProcess
	defaultWatcherRetryAttempts       = 3
	defaultWatcherRetryIntervalMS     = 1000
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultLogRetentionDays           = 14
)

// Watcher isolation modes.
const (
	WatcherIsolationProcess   = "process"
	WatcherIsolationGoroutine = "goroutine"
)

func defaultDescriptionFiles() []string {
	return []string{"jamfile.jam", "jamroot.jam"}
}

func defaultIgnoreDirs() []string {
	return []string{".git", "bin"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir(),
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Project: Project{
			DescriptionFiles: defaultDescriptionFiles(),
		},
		Engine: Engine{
			Command: defaultEngineCommand,
		},
		Daemon: Daemon{
			DebounceMS:                 defaultDebounceMS,
			DispatchTimeoutSeconds:     defaultDispatchTimeoutSeconds,
			DialTimeoutMS:              defaultDialTimeoutMS,
			HistoryRetentionDays:       defaultHistoryRetentionDays,
			MaintenanceIntervalMinutes: defaultMaintenanceIntervalMinutes,
		},
		Watcher: Watcher{
			Isolation:       defaultWatcherIsolation,
			IgnoreDirs:      defaultIgnoreDirs(),
			RetryAttempts:   defaultWatcherRetryAttempts,
			RetryIntervalMS: defaultWatcherRetryIntervalMS,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
