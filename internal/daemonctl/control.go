package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"buildd/internal/ipc"
	"buildd/internal/watcher"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const pollInterval = 50 * time.Millisecond

// Connect dials the daemon socket. It returns ErrDaemonNotRunning when no
// daemon is listening.
func Connect(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	client, err := ipc.Dial(socketPath, timeout)
	if err != nil {
		if isDaemonUnavailable(err) {
			return nil, fmt.Errorf("%w: %w", ErrDaemonNotRunning, err)
		}
		return nil, err
	}
	return client, nil
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(ctx context.Context, socketPath string, wait, dialTimeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath, dialTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon did not come up: %w", lastErr)
}

// WaitForShutdown waits for the daemon socket to stop accepting connections.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath, pollInterval)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
		} else {
			_ = client.Close()
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("daemon did not stop: timeout waiting for shutdown")
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// Stop asks the daemon to exit after any in-flight dispatch and waits up to
// gracePeriod for its socket to disappear. A reply lost to the daemon closing
// the connection counts as acknowledged.
func Stop(ctx context.Context, socketPath string, dialTimeout, gracePeriod time.Duration) (StopResult, error) {
	client, err := Connect(socketPath, dialTimeout)
	if err != nil {
		return StopResult{}, err
	}
	var result StopResult
	if status, statusErr := client.Status(ctx); statusErr == nil && status != nil {
		result.PID = status.PID
	}
	resp, err := client.Exit(ctx)
	_ = client.Close()
	switch {
	case err == nil:
		result.StopAcknowledged = resp != nil && resp.Exiting
	case errors.Is(err, ipc.ErrNoReply):
		result.StopAcknowledged = true
	default:
		return result, err
	}
	if gracePeriod > 0 {
		if err := WaitForShutdown(socketPath, gracePeriod); err != nil {
			return result, err
		}
	}
	return result, nil
}

// StopAndTerminate stops the daemon and force-kills it if the socket is still
// up after gracePeriod.
func StopAndTerminate(ctx context.Context, socketPath, pidPath string, dialTimeout, gracePeriod time.Duration) (StopResult, error) {
	result, err := Stop(ctx, socketPath, dialTimeout, gracePeriod)
	if err == nil || errors.Is(err, ErrDaemonNotRunning) {
		return result, err
	}
	killedPID, killErr := ForceKillProcess(pidPath, result.PID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w (after %w)", killErr, err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and removes its pid file.
func ForceKillProcess(pidPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pidStr != "" {
			if parsed, parseErr := strconv.Atoi(pidStr); parseErr == nil && parsed > 0 {
				pid = parsed
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return pid, nil
}

// WatcherLaunchOptions controls the watcher child process.
type WatcherLaunchOptions struct {
	Root       string
	SocketPath string
	ConfigPath string
	Output     io.Writer
}

// RunWatcherProcess starts `buildd daemon watch` as a child process and waits
// for it. The child is killed when ctx ends. Its exit status is mapped back
// to the watcher error it reports.
func RunWatcherProcess(ctx context.Context, executablePath string, opts WatcherLaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "watch", "--root", opts.Root, "--socket", opts.SocketPath}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	proc := exec.CommandContext(ctx, executablePath, args...)
	proc.Cancel = func() error {
		return proc.Process.Signal(syscall.SIGTERM)
	}
	proc.WaitDelay = 2 * time.Second
	if opts.Output != nil {
		proc.Stdout = opts.Output
		proc.Stderr = opts.Output
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch watcher: %w", err)
	}
	err := proc.Wait()
	if ctx.Err() != nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return watcher.ErrorForExitCode(exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("watcher process: %w", err)
	}
	return nil
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
