// Package main hosts the buildd CLI entrypoint and command graph.
//
// A bare invocation (`buildd [--daemon] [build args...]`) is an opaque build
// command line: the session coordinator either hands it to the daemon that
// serves the project, becomes that daemon, or runs the build engine once.
// The `daemon` command group inspects and manages a running daemon: status,
// dispatch history, stop, and configuration scaffolding. The hidden
// `daemon watch` command is the body of a process-isolated file watcher.
//
// Keep this package lean: behaviour lives in the internal packages and is only
// surfaced here.
package main
