package ipc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"buildd/internal/ipc"
	"buildd/internal/logging"
)

type fakeDaemon struct {
	mu       sync.Mutex
	dispatch []ipc.DispatchRequest
	changed  []string
	exited   bool
	block    chan struct{}
	fail     error
}

func (f *fakeDaemon) Dispatch(_ context.Context, req ipc.DispatchRequest) (ipc.DispatchResponse, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return ipc.DispatchResponse{}, f.fail
	}
	f.dispatch = append(f.dispatch, req)
	return ipc.DispatchResponse{Accepted: true, DispatchID: "d-1", Decision: "refresh"}, nil
}

func (f *fakeDaemon) Exit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	return nil
}

func (f *fakeDaemon) Status(context.Context) ipc.StatusResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ipc.StatusResponse{State: "idle", PID: os.Getpid(), PendingChanges: append([]string(nil), f.changed...)}
}

func (f *fakeDaemon) FileChanged(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, path)
	return true, nil
}

func startServer(t *testing.T, d ipc.Daemon) *ipc.Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "bdipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, filepath.Join(dir, "d.sock"), d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *ipc.Server) *ipc.Client {
	t.Helper()
	client, err := ipc.Dial(srv.Path(), time.Second)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIPCServerClient(t *testing.T) {
	d := &fakeDaemon{}
	srv := startServer(t, d)
	client := dial(t, srv)
	ctx := context.Background()

	recorded, err := client.FileChanged(ctx, "src/a.c")
	if err != nil {
		t.Fatalf("FileChanged RPC failed: %v", err)
	}
	if !recorded {
		t.Fatal("expected change to be recorded")
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.State != "idle" || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.PendingChanges) != 1 || status.PendingChanges[0] != "src/a.c" {
		t.Fatalf("unexpected pending changes %v", status.PendingChanges)
	}

	resp, err := client.Dispatch(ctx, ipc.DispatchRequest{Args: []string{"b2", "--daemon"}, Channel: "/tmp/x"}, time.Second)
	if err != nil {
		t.Fatalf("Dispatch RPC failed: %v", err)
	}
	if !resp.Accepted || resp.DispatchID != "d-1" {
		t.Fatalf("unexpected dispatch response %+v", resp)
	}
	if len(d.dispatch) != 1 || d.dispatch[0].Channel != "/tmp/x" {
		t.Fatalf("daemon did not receive dispatch: %+v", d.dispatch)
	}

	exitResp, err := client.Exit(ctx)
	if err != nil {
		t.Fatalf("Exit RPC failed: %v", err)
	}
	if !exitResp.Exiting || !d.exited {
		t.Fatal("expected exit to be accepted")
	}
}

func TestDispatchAcceptsEmptyArgs(t *testing.T) {
	d := &fakeDaemon{}
	srv := startServer(t, d)
	client := dial(t, srv)

	resp, err := client.Dispatch(context.Background(), ipc.DispatchRequest{Channel: "/tmp/x"}, time.Second)
	if err != nil {
		t.Fatalf("Dispatch without args: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("unexpected dispatch response %+v", resp)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dispatch) != 1 || len(d.dispatch[0].Args) != 0 {
		t.Fatalf("daemon did not receive empty dispatch: %+v", d.dispatch)
	}
}

func TestDaemonErrorIsNotNoReply(t *testing.T) {
	srv := startServer(t, &fakeDaemon{fail: errors.New("daemon exiting")})
	client := dial(t, srv)

	_, err := client.Dispatch(context.Background(), ipc.DispatchRequest{Args: []string{"b2"}}, time.Second)
	if err == nil {
		t.Fatal("expected daemon error")
	}
	if errors.Is(err, ipc.ErrNoReply) {
		t.Fatalf("server error misclassified as no reply: %v", err)
	}
}

func TestDispatchTimeoutIsNoReply(t *testing.T) {
	d := &fakeDaemon{block: make(chan struct{})}
	srv := startServer(t, d)
	client := dial(t, srv)
	t.Cleanup(func() { close(d.block) })

	_, err := client.Dispatch(context.Background(), ipc.DispatchRequest{Args: []string{"b2"}}, 50*time.Millisecond)
	if !errors.Is(err, ipc.ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}

func TestDroppedConnectionIsNoReply(t *testing.T) {
	d := &fakeDaemon{block: make(chan struct{})}
	srv := startServer(t, d)
	client := dial(t, srv)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Dispatch(context.Background(), ipc.DispatchRequest{Args: []string{"b2"}}, 0)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, ipc.ErrNoReply) {
			t.Fatalf("expected ErrNoReply, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after server close")
	}
	close(d.block)
	<-closed
}

func TestServerCloseRemovesSocket(t *testing.T) {
	srv := startServer(t, &fakeDaemon{})
	srv.Close()
	if _, err := os.Stat(srv.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected socket removed, stat err=%v", err)
	}
	if _, err := ipc.Dial(srv.Path(), 100*time.Millisecond); err == nil {
		t.Fatal("expected dial to fail after close")
	}
}
