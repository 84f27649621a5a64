// Package daemon runs the long-lived build daemon for one project root.
//
// A Daemon owns the change ledger and the dispatcher. Dispatch and Exit
// requests arriving over IPC are queued onto a single command loop, so
// dispatches never overlap and an exit takes effect only after the dispatch
// in flight finishes. File change reports bypass the loop and go straight to
// the mutex-guarded ledger, so the watcher is never blocked by a build.
//
// The daemon also supervises the file watcher, records each dispatch in the
// history store, and runs periodic maintenance (history and log pruning).
// Process bootstrap (sockets, locks, log files) lives in daemonrun.
package daemon
