package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRetryBackoff is the pause before recreating a failed listener.
	DefaultRetryBackoff = time.Second

	// DefaultMaxCommandBytes bounds the text read from one connection.
	DefaultMaxCommandBytes = 256

	wakeTimeout = 500 * time.Millisecond
)

// CommandDispatcher executes one decoded channel command to completion.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, raw string)
}

// ChannelConfig holds command channel configuration.
type ChannelConfig struct {
	Socket          string        // Unix socket path
	ReadTimeout     time.Duration // per-connection read deadline; 0 disables
	RetryBackoff    time.Duration
	MaxCommandBytes int
}

// Channel serves one command per connection on a Unix socket, strictly
// sequentially: a connection is fully handled, including any power action,
// before the next one is accepted.
type Channel struct {
	config     ChannelConfig
	state      *SupervisorState
	dispatcher CommandDispatcher
	logger     *zap.Logger

	done     chan struct{}
	wakeOnce sync.Once
}

// NewChannel creates a command channel bound to the supervisor state.
func NewChannel(
	config ChannelConfig,
	state *SupervisorState,
	dispatcher CommandDispatcher,
	logger *zap.Logger,
) *Channel {
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.MaxCommandBytes <= 0 {
		config.MaxCommandBytes = DefaultMaxCommandBytes
	}
	return &Channel{
		config:     config,
		state:      state,
		dispatcher: dispatcher,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Done is closed when Serve has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Serve runs until the liveness flag is cleared or ctx is canceled.
// Listener and accept failures are logged and retried after a fixed backoff.
// Canceling ctx closes the listener, which also removes the socket file.
func (c *Channel) Serve(ctx context.Context) {
	defer close(c.done)

	c.logger.Info("command channel started", zap.String("socket", c.config.Socket))
	defer c.logger.Info("command channel stopped")

	for c.running(ctx) {
		ln, err := c.listen(ctx)
		if err != nil {
			c.logger.Warn("failed to create command socket, retrying",
				zap.String("socket", c.config.Socket),
				zap.Duration("backoff", c.config.RetryBackoff),
				zap.Error(err))
			c.backoff(ctx)
			continue
		}

		err = c.acceptLoop(ctx, ln)
		ln.Close()
		if err != nil && c.running(ctx) {
			c.logger.Warn("command channel accept failed, retrying",
				zap.Duration("backoff", c.config.RetryBackoff),
				zap.Error(err))
			c.backoff(ctx)
		}
	}
}

// Wake unblocks a pending accept by connecting once and sending noop.
// Only the first call dials; failures are ignored.
func (c *Channel) Wake() {
	c.wakeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wakeTimeout)
		defer cancel()
		if err := SendCommand(ctx, c.config.Socket, "noop"); err != nil {
			c.logger.Debug("channel wake failed", zap.Error(err))
		}
	})
}

func (c *Channel) running(ctx context.Context) bool {
	return ctx.Err() == nil && c.state.Serving()
}

func (c *Channel) backoff(ctx context.Context) {
	t := time.NewTimer(c.config.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Channel) listen(ctx context.Context) (*net.UnixListener, error) {
	if err := os.MkdirAll(filepath.Dir(c.config.Socket), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeStaleSocket(ctx, c.config.Socket); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", c.config.Socket)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(c.config.Socket, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	ul := ln.(*net.UnixListener)
	ul.SetUnlinkOnClose(true)
	return ul, nil
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// A socket that still answers belongs to a live instance and is an error.
func removeStaleSocket(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if conn, err := d.DialContext(dctx, "unix", path); err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use by another instance", path)
	}
	return os.Remove(path)
}

// acceptLoop handles connections until the channel should stop. The
// listener is closed as soon as ctx is canceled.
func (c *Channel) acceptLoop(ctx context.Context, ln *net.UnixListener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !c.running(ctx) {
				return nil
			}
			return err
		}

		c.handle(ctx, conn)

		if !c.state.Serving() {
			return nil
		}
	}
}

// handle reads a single command and dispatches it before closing conn.
func (c *Channel) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if c.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	raw, err := readCommand(conn, c.config.MaxCommandBytes)
	if err != nil {
		c.logger.Debug("failed to read command", zap.Error(err))
		return
	}

	c.dispatcher.Dispatch(ctx, raw)
}

// readCommand reads up to a newline or EOF, bounded by limit bytes, and
// returns the trimmed text.
func readCommand(r io.Reader, limit int) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(limit)))
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
