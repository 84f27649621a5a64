// Package relay moves a dispatch's console output from the daemon to the
// client that requested it.
//
// The client creates a named FIFO in its working directory and follows it;
// the daemon opens the FIFO for writing, streams build output into it, and
// ends the stream with a sentinel line equal to the daemon identity. The
// client stops at the sentinel and removes the FIFO.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrChannelExists reports a leftover FIFO from an earlier, interrupted run.
var ErrChannelExists = errors.New("handshake channel already exists")

// Channel is a client-side handshake FIFO.
type Channel struct {
	Path     string
	Sentinel string
}

// Create makes the FIFO dir/name. An existing file at that path is never
// removed; the caller must report it.
func Create(dir, name, sentinel string) (*Channel, error) {
	path := filepath.Join(dir, name)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%w: %s (delete it if no build is running)", ErrChannelExists, path)
		}
		return nil, fmt.Errorf("create handshake channel: %w", err)
	}
	return &Channel{Path: path, Sentinel: sentinel}, nil
}

// Follow copies each line written to the channel to out until the sentinel
// line or end of stream, then removes the channel.
func (c *Channel) Follow(ctx context.Context, out io.Writer) error {
	defer c.Remove()

	f, err := openFIFO(ctx, c.Path, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("open handshake channel: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			text := strings.TrimSuffix(line, "\n")
			if text == c.Sentinel {
				return nil
			}
			if _, werr := io.WriteString(out, text+"\n"); werr != nil {
				return fmt.Errorf("relay output: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read handshake channel: %w", err)
		}
	}
}

// Remove deletes the channel file.
func (c *Channel) Remove() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Writer is the daemon side of a channel.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	sentinel string
	midLine  bool
	finished bool
}

// OpenWriter opens the FIFO at path for writing. It blocks until the client
// has the read end open or ctx ends.
func OpenWriter(ctx context.Context, path, sentinel string) (*Writer, error) {
	f, err := openFIFO(ctx, path, os.O_WRONLY)
	if err != nil {
		return nil, fmt.Errorf("open handshake channel: %w", err)
	}
	return &Writer{file: f, sentinel: sentinel}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.file.Write(p)
	if n > 0 {
		w.midLine = p[n-1] != '\n'
	}
	return n, err
}

// Finish terminates any partial line, writes the sentinel line and closes the
// channel. Calling Finish more than once is a no-op.
func (w *Writer) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true

	trailer := w.sentinel + "\n"
	if w.midLine {
		trailer = "\n" + trailer
	}
	_, werr := io.WriteString(w.file, trailer)
	cerr := w.file.Close()
	if werr != nil {
		return fmt.Errorf("write sentinel: %w", werr)
	}
	return cerr
}

// openFIFO opens a FIFO end, which blocks until the peer opens the other end.
// When ctx ends first, the blocked open is released by briefly opening the
// opposite end ourselves.
func openFIFO(ctx context.Context, path string, flag int) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, flag, 0)
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		return r.f, r.err
	case <-ctx.Done():
		peerFlag := os.O_WRONLY
		if flag == os.O_WRONLY {
			peerFlag = os.O_RDONLY
		}
		peer, err := os.OpenFile(path, peerFlag|unix.O_NONBLOCK, 0)
		if err != nil {
			return nil, ctx.Err()
		}
		defer peer.Close()
		if r := <-done; r.f != nil {
			r.f.Close()
		}
		return nil, ctx.Err()
	}
}
