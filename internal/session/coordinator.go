// Package session decides, for one client invocation, whether to hand the
// build to a running daemon, become the daemon, stop it, or build locally.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"buildd/internal/argv"
	"buildd/internal/daemonctl"
	"buildd/internal/identity"
	"buildd/internal/ipc"
	"buildd/internal/logging"
	"buildd/internal/relay"
)

// Outcome names what an invocation ended up doing.
type Outcome string

const (
	OutcomeStopped    Outcome = "stopped"
	OutcomeNotRunning Outcome = "not_running"
	OutcomeDelegated  Outcome = "delegated"
	OutcomeServed     Outcome = "served"
	OutcomeBuilt      Outcome = "built"
)

// Result reports the outcome of Run.
type Result struct {
	Outcome     Outcome
	BuildFailed bool
	// NoReply is set when a delegated dispatch never got its reply.
	NoReply    bool
	DispatchID string
	Decision   string
}

// ExitCode maps a result to the process exit status: 1 when the build
// failed, 0 otherwise. A dispatch without a reply counts as success.
func (r Result) ExitCode() int {
	if r.BuildFailed {
		return 1
	}
	return 0
}

// Host performs the work that needs the full process environment.
type Host interface {
	// ServeDaemon runs the daemon for a bound identity until it exits.
	ServeDaemon(ctx context.Context, binding *identity.Binding, args []string) error
	// BuildOnce runs a local reconfigure-and-build and reports whether the
	// engine failed.
	BuildOnce(ctx context.Context, args []string, out io.Writer) (bool, error)
}

const defaultBindWait = 10 * time.Second

// Options configures a Coordinator.
type Options struct {
	Identity   identity.Identity
	RuntimeDir string
	// WorkDir receives the handshake channel.
	WorkDir         string
	DialTimeout     time.Duration
	DispatchTimeout time.Duration
	// BindWait bounds how long a client that lost the bind race waits for
	// the winner's socket.
	BindWait time.Duration
	Host     Host
	Stdout   io.Writer
	Logger   *slog.Logger
}

// Coordinator runs client invocations for one identity.
type Coordinator struct {
	id              identity.Identity
	runtimeDir      string
	workDir         string
	socket          string
	dialTimeout     time.Duration
	dispatchTimeout time.Duration
	bindWait        time.Duration
	host            Host
	stdout          io.Writer
	logger          *slog.Logger
}

// New validates options and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Host == nil {
		return nil, errors.New("session requires a host")
	}
	if opts.Identity.Name == "" {
		return nil, errors.New("session requires an identity")
	}
	if opts.RuntimeDir == "" || opts.WorkDir == "" {
		return nil, errors.New("session requires runtime and work directories")
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	bindWait := opts.BindWait
	if bindWait <= 0 {
		bindWait = defaultBindWait
	}
	return &Coordinator{
		id:              opts.Identity,
		runtimeDir:      opts.RuntimeDir,
		workDir:         opts.WorkDir,
		socket:          opts.Identity.SocketPath(opts.RuntimeDir),
		dialTimeout:     opts.DialTimeout,
		dispatchTimeout: opts.DispatchTimeout,
		bindWait:        bindWait,
		host:            opts.Host,
		stdout:          stdout,
		logger:          logging.NewComponentLogger(opts.Logger, "session"),
	}, nil
}

// Run handles one invocation with the full argument list.
func (c *Coordinator) Run(ctx context.Context, args []string) (Result, error) {
	ctl := argv.Parse(args)
	if ctl.Stop {
		return c.stop(ctx)
	}

	client, err := daemonctl.Connect(c.socket, c.dialTimeout)
	if err == nil {
		defer client.Close()
		return c.delegate(ctx, client, args)
	}
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return Result{}, fmt.Errorf("connect to daemon: %w", err)
	}
	c.logger.Debug("no daemon found", logging.String("socket", c.socket))

	if !ctl.Start {
		failed, err := c.host.BuildOnce(ctx, args, c.stdout)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeBuilt, BuildFailed: failed}, nil
	}
	return c.become(ctx, args)
}

func (c *Coordinator) stop(ctx context.Context) (Result, error) {
	_, err := daemonctl.Stop(ctx, c.socket, c.dialTimeout, 0)
	switch {
	case err == nil:
		fmt.Fprintln(c.stdout, "daemon stopped")
		return Result{Outcome: OutcomeStopped}, nil
	case errors.Is(err, daemonctl.ErrDaemonNotRunning):
		fmt.Fprintln(c.stdout, "no daemon running")
		return Result{Outcome: OutcomeNotRunning}, nil
	default:
		return Result{}, fmt.Errorf("stop daemon: %w", err)
	}
}

func (c *Coordinator) become(ctx context.Context, args []string) (Result, error) {
	binding, err := identity.Bind(c.id, c.runtimeDir)
	if errors.Is(err, identity.ErrAlreadyRunning) {
		c.logger.Debug("another client is starting the daemon; delegating",
			logging.String(logging.FieldIdentity, c.id.Name))
		client, err := daemonctl.WaitForClient(ctx, c.socket, c.bindWait, c.dialTimeout)
		if err != nil {
			return Result{}, err
		}
		defer client.Close()
		return c.delegate(ctx, client, args)
	}
	if err != nil {
		return Result{}, fmt.Errorf("bind identity: %w", err)
	}
	defer binding.Release()

	if err := c.host.ServeDaemon(ctx, binding, slices.Clone(args)); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeServed}, nil
}

// delegate hands the build to a running daemon and relays its output. A
// stale handshake channel is fatal and left in place for the user.
func (c *Coordinator) delegate(ctx context.Context, client *ipc.Client, args []string) (Result, error) {
	ch, err := relay.Create(c.workDir, c.id.ChannelName(), c.id.Sentinel())
	if err != nil {
		return Result{}, err
	}

	followCtx, cancelFollow := context.WithCancel(ctx)
	defer cancelFollow()
	followed := make(chan error, 1)
	go func() {
		followed <- ch.Follow(followCtx, c.stdout)
	}()

	resp, err := client.Dispatch(ctx, ipc.DispatchRequest{Args: args, Channel: ch.Path}, c.dispatchTimeout)
	result := Result{Outcome: OutcomeDelegated}
	switch {
	case err == nil:
		result.BuildFailed = resp.BuildFailed
		result.DispatchID = resp.DispatchID
		result.Decision = resp.Decision
	case errors.Is(err, ipc.ErrNoReply):
		result.NoReply = true
		c.logger.Debug("dispatch reply not received; waiting for relayed output", logging.Error(err))
	default:
		cancelFollow()
		<-followed
		_ = ch.Remove()
		return Result{}, fmt.Errorf("dispatch: %w", err)
	}

	if err := <-followed; err != nil {
		return result, fmt.Errorf("relay output: %w", err)
	}
	return result, nil
}
