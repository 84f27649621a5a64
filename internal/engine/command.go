package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"buildd/internal/config"
	"buildd/internal/logging"
)

// Environment variables handed to the engine process. Both hold root-relative
// paths joined with the path list separator; an empty EnvDescriptionDirs asks
// for every description to be re-read.
const (
	EnvDescriptionDirs = "BUILDD_DESCRIPTION_DIRS"
	EnvRefreshTargets  = "BUILDD_REFRESH_TARGETS"
)

const maxLineBytes = 1 << 20

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, inv Invocation, onLine func(string)) error
}

// Invocation is a single engine process run.
type Invocation struct {
	Dir    string
	Binary string
	Args   []string
	Env    []string
}

// Option configures a Command engine.
type Option func(*Command)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Command) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		c.logger = logging.NewComponentLogger(logger, "engine")
	}
}

// Command runs the configured engine binary in the project root.
type Command struct {
	binary          string
	leadingArgs     []string
	reconfigureFlag string
	refreshFlag     string
	dir             string
	exec            Executor
	logger          *slog.Logger
}

// New builds an engine from configuration.
func New(cfg config.Engine, root string, opts ...Option) (*Command, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("engine command is required")
	}
	c := &Command{
		binary:          cfg.Command,
		leadingArgs:     append([]string(nil), cfg.Args...),
		reconfigureFlag: cfg.ReconfigureFlag,
		refreshFlag:     cfg.RefreshFlag,
		dir:             root,
		exec:            commandExecutor{},
		logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReconfigureAndBuild runs the engine with the reconfigure flag, if any, and
// the dispatch arguments.
func (c *Command) ReconfigureAndBuild(ctx context.Context, req ReconfigureRequest, out io.Writer) error {
	args := append([]string(nil), c.leadingArgs...)
	if c.reconfigureFlag != "" {
		args = append(args, c.reconfigureFlag)
	}
	args = append(args, req.Args...)
	env := []string{EnvDescriptionDirs + "=" + strings.Join(req.Dirs, string(os.PathListSeparator))}
	return c.run(ctx, "reconfigure", args, env, out)
}

// RefreshAndUpdate runs the engine with the refresh flag followed by each
// target when a refresh flag is configured, then the dispatch arguments.
func (c *Command) RefreshAndUpdate(ctx context.Context, req RefreshRequest, out io.Writer) error {
	args := append([]string(nil), c.leadingArgs...)
	if c.refreshFlag != "" {
		for _, target := range req.Targets {
			args = append(args, c.refreshFlag, target)
		}
	}
	args = append(args, req.Args...)
	env := []string{EnvRefreshTargets + "=" + strings.Join(req.Targets, string(os.PathListSeparator))}
	return c.run(ctx, "refresh", args, env, out)
}

func (c *Command) run(ctx context.Context, op string, args, env []string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	var mu sync.Mutex
	onLine := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(out, line+"\n")
	}
	c.logger.Debug("engine run",
		logging.String("operation", op),
		logging.String("binary", c.binary),
		logging.Strings("args", args),
	)
	err := c.exec.Run(ctx, Invocation{Dir: c.dir, Binary: c.binary, Args: args, Env: env}, onLine)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, inv Invocation, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...) //nolint:gosec
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if waitErr != nil {
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}
