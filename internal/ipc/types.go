package ipc

import (
	"context"
	"time"
)

// Daemon is the surface the RPC services forward to.
type Daemon interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error)
	Exit(ctx context.Context) error
	Status(ctx context.Context) StatusResponse
	FileChanged(path string) (bool, error)
}

// DispatchRequest asks the daemon to rebuild with the client's arguments.
// Channel is the absolute path of the client's handshake FIFO.
type DispatchRequest struct {
	Args    []string `json:"args"`
	Channel string   `json:"channel"`
}

// DispatchResponse acknowledges a finished dispatch.
type DispatchResponse struct {
	Accepted    bool   `json:"accepted"`
	DispatchID  string `json:"dispatch_id"`
	Decision    string `json:"decision"`
	BuildFailed bool   `json:"build_failed"`
	Message     string `json:"message,omitempty"`
}

// ExitRequest asks the daemon to shut down after in-flight work.
type ExitRequest struct{}

// ExitResponse acknowledges an exit request.
type ExitResponse struct {
	Exiting bool `json:"exiting"`
}

// StatusRequest requests daemon state.
type StatusRequest struct{}

// DispatchSummary describes the most recent dispatch.
type DispatchSummary struct {
	ID          string        `json:"id"`
	Decision    string        `json:"decision"`
	BuildFailed bool          `json:"build_failed"`
	FinishedAt  time.Time     `json:"finished_at"`
	Duration    time.Duration `json:"duration"`
}

// StatusResponse reports daemon state.
type StatusResponse struct {
	State          string           `json:"state"`
	PID            int              `json:"pid"`
	Root           string           `json:"root"`
	Identity       string           `json:"identity"`
	Socket         string           `json:"socket"`
	StartedAt      time.Time        `json:"started_at"`
	PendingChanges []string         `json:"pending_changes"`
	LastRebuild    time.Time        `json:"last_rebuild"`
	RememberedArgs []string         `json:"remembered_args"`
	LastDispatch   *DispatchSummary `json:"last_dispatch,omitempty"`
	WatcherActive  bool             `json:"watcher_active"`
	WatcherDetail  string           `json:"watcher_detail,omitempty"`
}

// FileChangedRequest reports one changed path.
type FileChangedRequest struct {
	Path string `json:"path"`
}

// FileChangedResponse reports whether the path was recorded.
type FileChangedResponse struct {
	Recorded bool `json:"recorded"`
}
