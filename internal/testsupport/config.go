package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"buildd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives under a short os.MkdirTemp path so unix socket
// paths stay within the kernel limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "bd")
	if err != nil {
		t.Fatalf("mkdir runtime dir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(runtimeDir)
	})

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Project.Root = filepath.Join(base, "project")
	cfgVal.Watcher.Isolation = config.WatcherIsolationGoroutine
	cfgVal.Watcher.RetryIntervalMS = 10
	cfgVal.Daemon.DialTimeoutMS = 500

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := os.MkdirAll(builder.cfg.Project.Root, 0o755); err != nil {
		t.Fatalf("mkdir project root: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithEngineCommand overrides the build engine command and its leading args.
func WithEngineCommand(command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.Command = command
		b.cfg.Engine.Args = args
	}
}

// WithDebounceMS overrides the ledger debounce window.
func WithDebounceMS(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.DebounceMS = ms
	}
}

// WithStubbedEngine writes a shell script named name that prints its
// arguments and exits with exitCode, and points the engine command at it.
func WithStubbedEngine(name string, exitCode int) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\necho \"engine $*\"\nexit " + strconv.Itoa(exitCode) + "\n")
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
		b.cfg.Engine.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Project.Root)
}
