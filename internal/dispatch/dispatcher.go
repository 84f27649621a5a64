// Package dispatch turns a client's build request into a rebuild decision and
// runs it against the build engine.
//
// A Dispatcher is not safe for concurrent use. The daemon calls it from its
// single command loop, which is what serializes dispatches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"buildd/internal/argv"
	"buildd/internal/engine"
	"buildd/internal/ledger"
	"buildd/internal/logging"
)

// Options configures a Dispatcher.
type Options struct {
	Engine           engine.Engine
	Ledger           *ledger.Ledger
	DescriptionFiles []string
	Clock            clockwork.Clock
	Logger           *slog.Logger
}

// Result summarizes one dispatch. Accepted is always true once Dispatch returns;
// a failing build is reported through BuildFailed.
type Result struct {
	Accepted    bool
	Plan        Plan
	Args        []string
	BuildFailed bool
	BuildError  string
	Started     time.Time
	Finished    time.Time
}

// Duration returns how long the dispatch took.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Dispatcher owns the remembered arguments of the previous dispatch.
type Dispatcher struct {
	engine           engine.Engine
	ledger           *ledger.Ledger
	descriptionFiles []string
	clock            clockwork.Clock
	logger           *slog.Logger
	remembered       []string
}

// New validates options and returns a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Engine == nil {
		return nil, errors.New("dispatcher requires an engine")
	}
	if opts.Ledger == nil {
		return nil, errors.New("dispatcher requires a ledger")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		engine:           opts.Engine,
		ledger:           opts.Ledger,
		descriptionFiles: append([]string(nil), opts.DescriptionFiles...),
		clock:            clock,
		logger:           logging.NewComponentLogger(opts.Logger, "dispatcher"),
	}, nil
}

// Remembered returns the normalized arguments of the previous dispatch.
func (d *Dispatcher) Remembered() []string {
	return append([]string(nil), d.remembered...)
}

// Prime records args and runs a full build of the whole project. The daemon
// calls it once at startup.
func (d *Dispatcher) Prime(ctx context.Context, args []string, out io.Writer) Result {
	result := Result{Accepted: true, Started: d.clock.Now()}
	d.remembered = argv.Strip(args)
	result.Args = d.Remembered()
	result.Plan = Plan{Decision: DecisionInitial}

	d.ledger.Drain()
	err := d.engine.ReconfigureAndBuild(ctx, engine.ReconfigureRequest{Args: d.Remembered()}, sink(out))
	d.finish(&result, err, out)
	return result
}

// Dispatch reconciles pending changes and args into a decision and runs it.
// Build output and diagnostics are written to out.
func (d *Dispatcher) Dispatch(ctx context.Context, args []string, out io.Writer) Result {
	out = sink(out)
	result := Result{Accepted: true, Started: d.clock.Now()}
	changed := d.ledger.Drain()

	if argv.Parse(args).Output {
		if changed == nil {
			changed = []string{}
		}
		fmt.Fprintf(out, "Files changed since last run: %v\n", changed)
	}

	normalized := argv.Strip(args)
	argsChanged := !slices.Equal(normalized, d.remembered)
	if argsChanged {
		d.remembered = normalized
	}
	result.Args = d.Remembered()
	result.Plan = Decide(changed, argsChanged, d.descriptionFiles)

	var err error
	switch result.Plan.Decision {
	case DecisionReconfigure:
		err = d.engine.ReconfigureAndBuild(ctx, engine.ReconfigureRequest{
			Dirs: result.Plan.DescriptionDirs,
			Args: d.Remembered(),
		}, out)
	case DecisionRefresh:
		err = d.engine.RefreshAndUpdate(ctx, engine.RefreshRequest{
			Targets: result.Plan.Targets,
			Args:    d.Remembered(),
		}, out)
	}
	d.finish(&result, err, out)
	return result
}

func (d *Dispatcher) finish(result *Result, err error, out io.Writer) {
	d.ledger.MarkRebuilt()
	result.Finished = d.clock.Now()
	if err != nil {
		result.BuildFailed = true
		result.BuildError = err.Error()
		fmt.Fprintf(out, "build failed: %v\n", err)
	}
	d.logger.Debug("dispatch planned",
		logging.String(logging.FieldDecision, string(result.Plan.Decision)),
		logging.Bool("args_changed", result.Plan.ArgsChanged),
		logging.Int("changed", len(result.Plan.Changed)),
		logging.Bool("build_failed", result.BuildFailed),
	)
}

func sink(out io.Writer) io.Writer {
	if out == nil {
		return io.Discard
	}
	return out
}
