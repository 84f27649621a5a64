package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"buildd/internal/logging"
)

const (
	commandService = "Command"
	notifyService  = "Notify"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(commandService, &command{daemon: d, logger: logger, ctx: ctx}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register command service: %w", err)
	}
	if err := rpcServer.RegisterName(notifyService, &notify{daemon: d, logger: logger}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register notify service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "clients may fall back to one-shot builds"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops accepting connections, drops open ones, and removes the socket
// file. Callers blocked in Dispatch observe a dropped connection.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale socket makes clients time out before building locally"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type command struct {
	daemon Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (c *command) Dispatch(req DispatchRequest, resp *DispatchResponse) error {
	c.logger.Debug("dispatch requested",
		logging.Strings("args", req.Args),
		logging.String("channel", req.Channel))
	result, err := c.daemon.Dispatch(c.ctx, req)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (c *command) Exit(_ ExitRequest, resp *ExitResponse) error {
	c.logger.Debug("daemon exit requested")
	if err := c.daemon.Exit(c.ctx); err != nil {
		return err
	}
	resp.Exiting = true
	c.logger.Info("daemon exit accepted via IPC",
		logging.String(logging.FieldEventType, "daemon_exit"))
	return nil
}

func (c *command) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = c.daemon.Status(c.ctx)
	return nil
}

type notify struct {
	daemon Daemon
	logger *slog.Logger
}

func (n *notify) FileChanged(req FileChangedRequest, resp *FileChangedResponse) error {
	if req.Path == "" {
		return errors.New("file change requires a path")
	}
	recorded, err := n.daemon.FileChanged(req.Path)
	if err != nil {
		return err
	}
	resp.Recorded = recorded
	return nil
}
