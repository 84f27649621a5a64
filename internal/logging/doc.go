// Package logging assembles structured slog loggers and formatting helpers used
// across buildd.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes field helpers so the daemon, the watcher, and the CLI
// tag log lines with the same keys (component, dispatch_id, event_type). The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, a fan-out handler for mirroring output into per-run log files, and
// retention pruning for those files.
package logging
