package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// DefaultDialTimeout bounds connection attempts when callers pass zero.
const DefaultDialTimeout = 2 * time.Second

// ErrNoReply reports a call whose reply never arrived: it timed out or the
// connection dropped mid-call.
var ErrNoReply = errors.New("no reply from daemon")

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Dispatch asks the daemon to rebuild. It waits up to timeout for the reply;
// zero waits until ctx ends.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest, timeout time.Duration) (*DispatchResponse, error) {
	var resp DispatchResponse
	if err := c.call(ctx, timeout, commandService+".Dispatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Exit asks the daemon to shut down once in-flight work finishes.
func (c *Client) Exit(ctx context.Context) (*ExitResponse, error) {
	var resp ExitResponse
	if err := c.call(ctx, 0, commandService+".Exit", ExitRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, 0, commandService+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileChanged reports a changed path.
func (c *Client) FileChanged(ctx context.Context, path string) (bool, error) {
	var resp FileChangedResponse
	if err := c.call(ctx, 0, notifyService+".FileChanged", FileChangedRequest{Path: path}, &resp); err != nil {
		return false, err
	}
	return resp.Recorded, nil
}

func (c *Client) call(ctx context.Context, timeout time.Duration, method string, args, reply any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	pending := c.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		return classify(done.Error)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, ErrNoReply)
		}
		return ctx.Err()
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrNoReply, err)
	}
	return err
}

// IsRemote reports whether err was returned by the daemon's handler rather
// than by the transport.
func IsRemote(err error) bool {
	var serverErr rpc.ServerError
	return errors.As(err, &serverErr)
}
