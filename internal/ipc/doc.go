// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI and the file watcher.
//
// Two services share one socket. Command carries Dispatch, Exit, and Status
// from short-lived client invocations; Notify carries FileChanged reports
// from the watcher. The server forwards both to a Daemon implementation and
// owns the socket file lifecycle.
//
// A Dispatch call that times out, or whose connection drops before the reply
// arrives, returns ErrNoReply. Callers treat it as success because the
// dispatch itself still runs to completion in the daemon.
package ipc
