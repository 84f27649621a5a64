package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"buildd/internal/dispatch"
	"buildd/internal/engine"
	"buildd/internal/history"
	"buildd/internal/identity"
	"buildd/internal/ipc"
	"buildd/internal/ledger"
	"buildd/internal/logging"
	"buildd/internal/metrics"
	"buildd/internal/relay"
)

// ErrExiting is returned for requests that arrive after the daemon began exiting.
var ErrExiting = errors.New("daemon exiting")

const defaultChannelOpenTimeout = 10 * time.Second

// Options configures a Daemon.
type Options struct {
	Identity         identity.Identity
	Root             string
	Socket           string
	Args             []string
	Engine           engine.Engine
	Debounce         time.Duration
	DescriptionFiles []string
	Clock            clockwork.Clock
	History          *history.Store
	Metrics          *metrics.Recorder
	// Watcher runs the file watcher until its context ends. Nil disables it.
	Watcher WatcherFunc
	// Console receives output of the initial build.
	Console io.Writer
	// ChannelOpenTimeout bounds how long a dispatch waits for the client's
	// handshake channel to open.
	ChannelOpenTimeout time.Duration
	Logger             *slog.Logger
}

type commandKind int

const (
	commandDispatch commandKind = iota
	commandExit
)

type command struct {
	kind  commandKind
	req   ipc.DispatchRequest
	reply chan ipc.DispatchResponse
}

// Daemon serializes dispatches for one project root.
type Daemon struct {
	identity           identity.Identity
	root               string
	socket             string
	args               []string
	clock              clockwork.Clock
	history            *history.Store
	metrics            *metrics.Recorder
	watcher            WatcherFunc
	console            io.Writer
	channelOpenTimeout time.Duration
	logger             *slog.Logger

	ledger     *ledger.Ledger
	dispatcher *dispatch.Dispatcher

	cmds chan command
	done chan struct{}

	mu            sync.RWMutex
	state         State
	startedAt     time.Time
	remembered    []string
	lastDispatch  *ipc.DispatchSummary
	watcherActive bool
	watcherDetail string
}

var _ ipc.Daemon = (*Daemon)(nil)

// New constructs a daemon in the starting state.
func New(opts Options) (*Daemon, error) {
	if opts.Engine == nil {
		return nil, errors.New("daemon requires an engine")
	}
	if opts.Root == "" {
		return nil, errors.New("daemon requires a project root")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon").
		With(logging.String(logging.FieldIdentity, opts.Identity.Name))

	led := ledger.New(opts.Root, opts.Debounce, clock)
	disp, err := dispatch.New(dispatch.Options{
		Engine:           opts.Engine,
		Ledger:           led,
		DescriptionFiles: opts.DescriptionFiles,
		Clock:            clock,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	timeout := opts.ChannelOpenTimeout
	if timeout <= 0 {
		timeout = defaultChannelOpenTimeout
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}

	return &Daemon{
		identity:           opts.Identity,
		root:               opts.Root,
		socket:             opts.Socket,
		args:               slices.Clone(opts.Args),
		clock:              clock,
		history:            opts.History,
		metrics:            opts.Metrics,
		watcher:            opts.Watcher,
		console:            console,
		channelOpenTimeout: timeout,
		logger:             logger,
		ledger:             led,
		dispatcher:         disp,
		cmds:               make(chan command),
		done:               make(chan struct{}),
		state:              StateStarting,
	}, nil
}

// Run launches the watcher, performs the initial full build, then serves
// queued commands until Exit or ctx ends.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.startedAt = d.clock.Now()
	d.mu.Unlock()

	watchCtx, stopWatcher := context.WithCancel(ctx)
	watcherDone := d.superviseWatcher(watchCtx)
	defer func() {
		stopWatcher()
		<-watcherDone
	}()

	d.logger.Info("initial build started",
		logging.String(logging.FieldEventType, "initial_build_started"),
		logging.Strings("args", d.args))
	result := d.dispatcher.Prime(ctx, d.args, d.console)
	d.finishDispatch(ctx, uuid.NewString(), result)
	d.setState(StateIdle)

	defer d.shutdown()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon context canceled",
				logging.String(logging.FieldEventType, "daemon_canceled"))
			return nil
		case cmd := <-d.cmds:
			switch cmd.kind {
			case commandExit:
				d.setState(StateExiting)
				close(cmd.reply)
				d.logger.Info("daemon exiting",
					logging.String(logging.FieldEventType, "daemon_exit"))
				return nil
			case commandDispatch:
				cmd.reply <- d.handleDispatch(ctx, cmd.req)
			}
		}
	}
}

func (d *Daemon) shutdown() {
	d.setState(StateExiting)
	d.ledger.Close()
	close(d.done)
}

// Done is closed once the command loop has stopped.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Dispatch queues a dispatch and waits for its response. The dispatch runs
// on the daemon's context, so a caller that goes away does not interrupt it.
func (d *Daemon) Dispatch(ctx context.Context, req ipc.DispatchRequest) (ipc.DispatchResponse, error) {
	cmd := command{kind: commandDispatch, req: req, reply: make(chan ipc.DispatchResponse, 1)}
	select {
	case d.cmds <- cmd:
	case <-d.done:
		return ipc.DispatchResponse{}, ErrExiting
	case <-ctx.Done():
		return ipc.DispatchResponse{}, ctx.Err()
	}
	select {
	case resp := <-cmd.reply:
		return resp, nil
	case <-d.done:
		return ipc.DispatchResponse{}, ErrExiting
	}
}

// Exit queues a shutdown behind any dispatch in flight.
func (d *Daemon) Exit(ctx context.Context) error {
	cmd := command{kind: commandExit, reply: make(chan ipc.DispatchResponse)}
	select {
	case d.cmds <- cmd:
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.reply:
	case <-d.done:
	}
	return nil
}

// FileChanged records a change report in the ledger. It never waits on the
// command loop.
func (d *Daemon) FileChanged(path string) (bool, error) {
	outcome, err := d.ledger.FileChanged(path)
	if err != nil {
		return false, err
	}
	d.metrics.IncFileChange(string(outcome))
	if outcome == ledger.Recorded {
		d.metrics.SetPendingChanges(len(d.ledger.Snapshot()))
		d.logger.Debug("file change recorded", logging.String(logging.FieldPath, path))
	}
	return outcome == ledger.Recorded, nil
}

// Status reports daemon state without waiting on the command loop.
func (d *Daemon) Status(context.Context) ipc.StatusResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := ipc.StatusResponse{
		State:          d.state.String(),
		PID:            os.Getpid(),
		Root:           d.root,
		Identity:       d.identity.Name,
		Socket:         d.socket,
		StartedAt:      d.startedAt,
		PendingChanges: d.ledger.Snapshot(),
		LastRebuild:    d.ledger.LastRebuild(),
		RememberedArgs: slices.Clone(d.remembered),
		WatcherActive:  d.watcherActive,
		WatcherDetail:  d.watcherDetail,
	}
	if d.lastDispatch != nil {
		summary := *d.lastDispatch
		resp.LastDispatch = &summary
	}
	return resp
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) setState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

func (d *Daemon) handleDispatch(ctx context.Context, req ipc.DispatchRequest) ipc.DispatchResponse {
	id := uuid.NewString()
	logger := logging.WithDispatch(d.logger, id)
	d.setState(StateDispatching)
	defer d.setState(StateIdle)

	var out io.Writer = io.Discard
	var writer *relay.Writer
	if req.Channel != "" {
		openCtx, cancel := context.WithTimeout(ctx, d.channelOpenTimeout)
		w, err := relay.OpenWriter(openCtx, req.Channel, d.identity.Sentinel())
		cancel()
		if err != nil {
			logging.WarnWithContext(logger, "handshake channel unavailable; output discarded", "relay_open_failed",
				logging.Error(err),
				logging.String("channel", req.Channel),
				logging.String(logging.FieldImpact, "the client sees no build output for this dispatch"),
				logging.String(logging.FieldErrorHint, "check that the client is still running"))
		} else {
			writer = w
			out = w
		}
	}

	result := d.dispatcher.Dispatch(ctx, req.Args, out)

	if writer != nil {
		if err := writer.Finish(); err != nil {
			logger.Warn("failed to finish handshake channel",
				logging.Error(err),
				logging.String(logging.FieldEventType, "relay_finish_failed"),
				logging.String(logging.FieldImpact, "the client may wait for output until its timeout"),
				logging.String(logging.FieldErrorHint, "remove the leftover channel file in the client directory"))
		}
	}

	d.finishDispatch(ctx, id, result)

	resp := ipc.DispatchResponse{
		Accepted:    result.Accepted,
		DispatchID:  id,
		Decision:    string(result.Plan.Decision),
		BuildFailed: result.BuildFailed,
	}
	if result.BuildFailed {
		resp.Message = result.BuildError
	}
	return resp
}

func (d *Daemon) finishDispatch(ctx context.Context, id string, result dispatch.Result) {
	logger := logging.WithDispatch(d.logger, id)

	d.mu.Lock()
	d.remembered = slices.Clone(result.Args)
	d.lastDispatch = &ipc.DispatchSummary{
		ID:          id,
		Decision:    string(result.Plan.Decision),
		BuildFailed: result.BuildFailed,
		FinishedAt:  result.Finished,
		Duration:    result.Duration(),
	}
	d.mu.Unlock()

	d.metrics.ObserveDispatch(string(result.Plan.Decision), result.BuildFailed, result.Duration())
	d.metrics.SetPendingChanges(len(d.ledger.Snapshot()))

	if d.history != nil {
		rec := history.Record{
			ID:              id,
			StartedAt:       result.Started,
			FinishedAt:      result.Finished,
			Args:            result.Args,
			Decision:        string(result.Plan.Decision),
			ArgsChanged:     result.Plan.ArgsChanged,
			ChangedPaths:    result.Plan.Changed,
			DescriptionDirs: result.Plan.DescriptionDirs,
			BuildFailed:     result.BuildFailed,
			ErrorMessage:    result.BuildError,
		}
		if err := d.history.Append(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("failed to record dispatch history",
				logging.Error(err),
				logging.String(logging.FieldEventType, "history_append_failed"),
				logging.String(logging.FieldImpact, "dispatch missing from history"),
				logging.String(logging.FieldErrorHint, "check the state directory is writable"))
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dispatch_completed"),
		logging.String(logging.FieldDecision, string(result.Plan.Decision)),
		logging.Int("changed", len(result.Plan.Changed)),
		logging.Bool("args_changed", result.Plan.ArgsChanged),
		logging.Duration("duration", result.Duration()),
	}
	if result.BuildFailed {
		attrs = append(attrs, logging.String("build_error", result.BuildError))
		logger.Info("dispatch finished with build failure", logging.Args(attrs...)...)
		return
	}
	logger.Info("dispatch completed", logging.Args(attrs...)...)
}
