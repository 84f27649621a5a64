// Package watcher observes the project tree and reports changed files to the
// daemon over the Notify RPC surface.
//
// The watcher runs apart from the daemon's command loop, either in its own
// child process or in a supervised goroutine, and talks to the daemon only
// through IPC. Every directory under the root is watched; directories created
// later are added as they appear. Reports are not deduplicated here; the
// daemon's change ledger does that.
//
// When the daemon cannot be reached the watcher reconnects under a bounded
// retry policy and exits with ErrGaveUp once the policy is exhausted.
package watcher
