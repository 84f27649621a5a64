package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"buildd/internal/argv"
	"buildd/internal/config"
	"buildd/internal/daemon"
	"buildd/internal/daemonctl"
	"buildd/internal/engine"
	"buildd/internal/history"
	"buildd/internal/identity"
	"buildd/internal/ipc"
	"buildd/internal/logging"
	"buildd/internal/metrics"
	"buildd/internal/preflight"
	"buildd/internal/retry"
	"buildd/internal/session"
	"buildd/internal/watcher"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is forwarded to the watcher child process.
	ConfigPath string
	// Executable is re-executed for process-isolated watchers.
	Executable string
	Stdout     io.Writer
	Logger     *slog.Logger
}

// Host runs daemons and one-shot builds for the CLI.
type Host struct {
	cfg  *config.Config
	opts Options
}

var _ session.Host = (*Host)(nil)

// NewHost returns a Host for cfg.
func NewHost(cfg *config.Config, opts Options) *Host {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Host{cfg: cfg, opts: opts}
}

// NewCoordinator builds a session coordinator for the configured project,
// creating handshake channels in workDir.
func NewCoordinator(cfg *config.Config, host *Host, workDir string) (*session.Coordinator, error) {
	id, err := identity.Derive(cfg.Project.Root)
	if err != nil {
		return nil, err
	}
	return session.New(session.Options{
		Identity:        id,
		RuntimeDir:      cfg.Paths.RuntimeDir,
		WorkDir:         workDir,
		DialTimeout:     cfg.DialTimeout(),
		DispatchTimeout: cfg.DispatchTimeout(),
		Host:            host,
		Stdout:          host.opts.Stdout,
		Logger:          host.opts.Logger,
	})
}

// BuildOnce runs a local reconfigure-and-build without a daemon.
func (h *Host) BuildOnce(ctx context.Context, args []string, out io.Writer) (bool, error) {
	eng, err := engine.New(h.cfg.Engine, h.cfg.Project.Root, engine.WithLogger(h.opts.Logger))
	if err != nil {
		return false, err
	}
	if err := eng.ReconfigureAndBuild(ctx, engine.ReconfigureRequest{Args: argv.Strip(args)}, out); err != nil {
		fmt.Fprintf(out, "build failed: %v\n", err)
		return true, nil
	}
	return false, nil
}

// ServeDaemon runs the daemon for binding until it is told to exit or ctx
// ends. The initial build's output goes to the host's stdout.
func (h *Host) ServeDaemon(ctx context.Context, binding *identity.Binding, args []string) error {
	cfg := h.cfg
	id := binding.Identity()
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("%s-%s.log", id.Name, runID))
	logger, logFile, err := logging.NewDaemonLogger(cfg, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logFile.Close()
	logger = logger.With(logging.String(logging.FieldIdentity, id.Name))
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, id.Name+".log", logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s.log link: %v\n", id.Name, err)
	}
	logTargets := []logging.RetentionTarget{
		{Dir: cfg.Paths.LogDir, Pattern: id.Name + "-*.log", Exclude: []string{logPath}},
	}
	logging.CleanupOldLogs(logger, time.Now(), cfg.Logging.RetentionDays, logTargets...)

	for _, check := range preflight.Failed(preflight.RunAll(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "builds may fail until this is fixed"),
			logging.String(logging.FieldErrorHint, "run `buildd daemon status` for the full environment report"))
	}

	pidPath := id.PIDPath(cfg.Paths.RuntimeDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(id.StorePath(cfg.Paths.StateDir))
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}
	defer store.Close()

	recorder := metrics.NewRecorder(nil)
	if cfg.Daemon.MetricsBind != "" {
		recorder.RegisterRuntimeCollectors()
		go func() {
			if err := recorder.Serve(ctx, cfg.Daemon.MetricsBind, logger); err != nil {
				logging.WarnWithContext(logger, "metrics endpoint failed", "metrics_serve_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "daemon metrics are not exported"),
					logging.String(logging.FieldErrorHint, "check daemon.metrics_bind is a free host:port"))
			}
		}()
	}

	eng, err := engine.New(cfg.Engine, cfg.Project.Root, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	socketPath := id.SocketPath(cfg.Paths.RuntimeDir)
	d, err := daemon.New(daemon.Options{
		Identity:         id,
		Root:             cfg.Project.Root,
		Socket:           socketPath,
		Args:             args,
		Engine:           eng,
		Debounce:         cfg.DebounceWindow(),
		DescriptionFiles: cfg.Project.DescriptionFiles,
		History:          store,
		Metrics:          recorder,
		Watcher:          h.watcherFunc(id, socketPath, logger),
		Console:          h.opts.Stdout,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	maintenance, err := daemon.NewMaintenance(daemon.MaintenanceOptions{
		Interval:             cfg.MaintenanceInterval(),
		History:              store,
		HistoryRetentionDays: cfg.Daemon.HistoryRetentionDays,
		LogRetentionDays:     cfg.Logging.RetentionDays,
		LogTargets:           logTargets,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("create maintenance scheduler: %w", err)
	}
	maintenance.Start()
	defer func() {
		if err := maintenance.Stop(); err != nil {
			logger.Debug("maintenance scheduler shutdown", logging.Error(err))
		}
	}()

	logger.Info("buildd daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("root", cfg.Project.Root),
		logging.String("socket", socketPath),
		logging.String("watcher_isolation", cfg.Watcher.Isolation),
		logging.String("log_path", logPath))

	if err := d.Run(ctx); err != nil {
		return err
	}
	logger.Info("buildd daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}

func (h *Host) watcherFunc(id identity.Identity, socketPath string, logger *slog.Logger) daemon.WatcherFunc {
	cfg := h.cfg
	if cfg.Watcher.Isolation == config.WatcherIsolationProcess && h.opts.Executable != "" {
		return func(ctx context.Context) error {
			return daemonctl.RunWatcherProcess(ctx, h.opts.Executable, daemonctl.WatcherLaunchOptions{
				Root:       cfg.Project.Root,
				SocketPath: socketPath,
				ConfigPath: h.opts.ConfigPath,
				Output:     os.Stderr,
			})
		}
	}
	return func(ctx context.Context) error {
		return RunWatcher(ctx, cfg, id, socketPath, logger)
	}
}

// RunWatcher runs a file watcher for cfg's project against the daemon at
// socketPath. It backs both the goroutine isolation mode and the hidden
// `daemon watch` command.
func RunWatcher(ctx context.Context, cfg *config.Config, id identity.Identity, socketPath string, logger *slog.Logger) error {
	w, err := watcher.New(watcher.Options{
		Root:        cfg.Project.Root,
		IgnoreDirs:  cfg.Watcher.IgnoreDirs,
		IgnoreNames: []string{id.ChannelName()},
		Retry:       retry.NewPolicy(cfg.WatcherRetryInterval(), cfg.Watcher.RetryAttempts),
		Logger:      logger,
	}, watcher.IPCDialer(socketPath, cfg.DialTimeout()))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func ensureCurrentLogPointer(logDir, name, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, name)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
