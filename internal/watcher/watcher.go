package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"buildd/internal/ipc"
	"buildd/internal/logging"
	"buildd/internal/retry"
)

var (
	// ErrGaveUp is returned when the daemon stayed unreachable through every retry.
	ErrGaveUp = errors.New("watcher gave up reaching daemon")
	// ErrUnavailable is returned when file system notifications cannot be set up.
	ErrUnavailable = errors.New("file system notifications unavailable")
)

// Notifier delivers change reports to the daemon. *ipc.Client satisfies it.
type Notifier interface {
	FileChanged(ctx context.Context, path string) (bool, error)
	Close() error
}

// Dialer opens a Notifier connection.
type Dialer func(ctx context.Context) (Notifier, error)

// IPCDialer dials the daemon socket.
func IPCDialer(socketPath string, timeout time.Duration) Dialer {
	return func(context.Context) (Notifier, error) {
		client, err := ipc.Dial(socketPath, timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Options configures a Watcher.
type Options struct {
	Root string
	// IgnoreDirs are directory names skipped anywhere in the tree.
	IgnoreDirs []string
	// IgnoreNames are file base names never reported.
	IgnoreNames []string
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Watcher reports file changes under a root. Run it once.
type Watcher struct {
	root        string
	ignoreDirs  []string
	ignoreNames []string
	retry       retry.Policy
	dial        Dialer
	logger      *slog.Logger

	conn      Notifier
	ready     chan struct{}
	readyOnce sync.Once
}

// New validates options and returns a Watcher.
func New(opts Options, dial Dialer) (*Watcher, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("watcher requires a root")
	}
	if dial == nil {
		return nil, errors.New("watcher requires a dialer")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Watcher{
		root:        root,
		ignoreDirs:  slices.Clone(opts.IgnoreDirs),
		ignoreNames: slices.Clone(opts.IgnoreNames),
		retry:       opts.Retry,
		dial:        dial,
		logger:      logging.NewComponentLogger(opts.Logger, "watcher"),
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once the initial tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx ends. It returns ErrUnavailable when notifications
// cannot be set up and ErrGaveUp when the daemon stays unreachable.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.WarnWithContext(w.logger, "file watching unavailable", "watcher_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "changes are not detected; dispatches rebuild only on argument changes"),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances or restart the daemon"))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer fsw.Close()
	defer w.disconnect()

	if err := w.addTree(fsw, w.root); err != nil {
		logging.WarnWithContext(w.logger, "failed to watch project root", "watcher_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "changes are not detected"),
			logging.String(logging.FieldErrorHint, "check permissions on the project root"))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Info("watching project tree",
		logging.String(logging.FieldEventType, "watcher_started"),
		logging.String("root", w.root),
		logging.Int("watched_dirs", len(fsw.WatchList())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, fsw, event); err != nil {
				return err
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "watcher_error"),
				logging.String(logging.FieldImpact, "some changes may be missed"),
				logging.String(logging.FieldErrorHint, "pass the diagnostic flag to see what the next dispatch picks up"))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) error {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) {
		return nil
	}
	rel, ok := w.relative(event.Name)
	if !ok || w.ignored(rel) {
		return nil
	}
	if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := w.addTree(fsw, event.Name); err != nil {
				w.logger.Debug("failed to watch new directory", logging.String(logging.FieldPath, rel), logging.Error(err))
			}
		}
		return nil
	}
	return w.report(ctx, rel)
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("skipping unreadable path", logging.String(logging.FieldPath, path), logging.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			if rel, ok := w.relative(path); ok && w.ignored(rel) {
				return fs.SkipDir
			}
		}
		if err := fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("failed to watch directory", logging.String(logging.FieldPath, path), logging.Error(err))
		}
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) ignored(rel string) bool {
	if slices.Contains(w.ignoreNames, filepath.Base(rel)) {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if slices.Contains(w.ignoreDirs, part) {
			return true
		}
	}
	return false
}

func (w *Watcher) report(ctx context.Context, rel string) error {
	if w.conn != nil {
		err := w.send(ctx, w.conn, rel)
		if err == nil {
			return nil
		}
		w.logger.Debug("lost daemon connection", logging.Error(err))
		w.disconnect()
	}

	err := w.retry.Do(ctx, func(attempt int) error {
		conn, err := w.dial(ctx)
		if err != nil {
			w.logger.Debug("daemon dial failed", logging.Int("attempt", attempt+1), logging.Error(err))
			return err
		}
		if err := w.send(ctx, conn, rel); err != nil {
			_ = conn.Close()
			return err
		}
		w.conn = conn
		return nil
	})
	if err == nil || ctx.Err() != nil {
		return nil
	}
	w.logger.Warn("daemon unreachable; watcher exiting",
		logging.Error(err),
		logging.String(logging.FieldEventType, "watcher_gave_up"),
		logging.String(logging.FieldImpact, "the daemon keeps serving but no longer sees file changes"),
		logging.String(logging.FieldErrorHint, "restart the daemon to resume change detection"))
	return fmt.Errorf("%w: %w", ErrGaveUp, err)
}

// send delivers one report. Errors raised by the daemon itself, such as a
// closed ledger during shutdown, do not count as a lost connection.
func (w *Watcher) send(ctx context.Context, conn Notifier, rel string) error {
	recorded, err := conn.FileChanged(ctx, rel)
	if err != nil {
		if ipc.IsRemote(err) {
			w.logger.Debug("daemon rejected change", logging.String(logging.FieldPath, rel), logging.Error(err))
			return nil
		}
		return err
	}
	w.logger.Debug("change reported", logging.String(logging.FieldPath, rel), logging.Bool("recorded", recorded))
	return nil
}

func (w *Watcher) disconnect() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// Exit codes used by a watcher running in its own process.
const (
	ExitGaveUp      = 3
	ExitUnavailable = 4
)

// ExitCode maps a Run error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrGaveUp):
		return ExitGaveUp
	case errors.Is(err, ErrUnavailable):
		return ExitUnavailable
	default:
		return 1
	}
}

// ErrorForExitCode maps a watcher process exit code back to the Run error it
// stands for.
func ErrorForExitCode(code int) error {
	switch code {
	case 0:
		return nil
	case ExitGaveUp:
		return ErrGaveUp
	case ExitUnavailable:
		return ErrUnavailable
	default:
		return fmt.Errorf("watcher process exited with status %d", code)
	}
}
