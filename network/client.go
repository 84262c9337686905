// Package network provides the transport of a logging session: an
// event-driven TCP client that authenticates to the coordinator with a token
// and delivers every received message to a single registered handler, in
// arrival order.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/matchlogger/logger"
	"github.com/cyberinferno/matchlogger/message"
)

var (
	// ErrClosed is returned by operations on a terminated client.
	ErrClosed = errors.New("client is closed")
	// ErrNotConnected is returned by Send when there is no live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect while a connection is live or being established.
	ErrAlreadyConnected = errors.New("already connected or connecting")
	// ErrNoAddress is returned by Connect before SetConnectionData was called.
	ErrNoAddress = errors.New("connection data not set")
)

// ConnectionState represents the current state of the client.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected; Connect may be called
	Connecting                          // Dial or token handshake in progress
	Connected                           // Handshake done, messages are being delivered
	Closed                              // Terminated; the client cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// MessageHandler receives every message read from the coordinator. The
// client never runs two handler calls at once and never calls the handler
// from the goroutine that invoked Connect.
type MessageHandler func(msg message.Message)

// Config holds the tunables of a Client.
type Config struct {
	// ConnectionTimeout bounds the dial and the token handshake of one attempt.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration of a single frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadTimeout is the max idle time between frames; 0 means no timeout.
	ReadTimeout time.Duration
	// QueueSize is the number of decoded messages buffered ahead of the handler.
	QueueSize int
}

// DefaultConfig returns a Config with a 10s connection and write timeout, no
// read timeout and a 1024 message queue.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		QueueSize:         1024,
	}
}

// Client is the TCP transport used by the session controller. Configure it
// with SetConnectionData, then call Connect until IsConnected reports true.
// Received frames are decoded on a read goroutine and handed to the handler
// by a separate dispatch goroutine. It is safe for concurrent use.
type Client struct {
	config  Config
	handler MessageHandler
	log     logger.Logger

	mu      sync.RWMutex
	address string
	token   string
	conn    net.Conn
	state   ConnectionState
	group   *errgroup.Group
	cancel  context.CancelFunc
	closed  bool

	writeMu sync.Mutex
}

// NewClient creates a disconnected Client delivering messages to handler.
//
// Parameters:
//   - handler: Called for every received message; must not call Terminate
//   - config: Timeouts and queue size (e.g. from DefaultConfig)
//   - log: Reporting facility for decode and connection errors
//
// Returns:
//   - A new *Client; call Terminate when done to release resources
func NewClient(handler MessageHandler, config Config, log logger.Logger) *Client {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		config:  config,
		handler: handler,
		log:     log.With(logger.F("component", "network")),
		state:   Disconnected,
	}
}

// SetConnectionData sets the coordinator address and the token sent on
// every new connection. It takes effect on the next Connect.
func (c *Client) SetConnectionData(host string, port int, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.address = net.JoinHostPort(host, strconv.Itoa(port))
	c.token = token
}

// Address returns the configured "host:port", or "" if unset.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Connect makes one attempt to dial the coordinator and send the token
// message. On success the client is Connected and starts delivering
// messages; on failure it is Disconnected and the error is returned. It
// does not retry.
//
// Returns:
//   - nil on success; ErrClosed, ErrAlreadyConnected, ErrNoAddress, or the dial/handshake error.
func (c *Client) Connect() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == Connected || c.state == Connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.address == "":
		c.mu.Unlock()
		return ErrNoAddress
	}

	address, token, previous, previousCancel := c.address, c.token, c.group, c.cancel
	c.state = Connecting
	c.mu.Unlock()

	// Let the loops of a dropped connection finish delivering before a new
	// connection starts, so ordering holds across connections.
	if previous != nil {
		_ = previous.Wait()
		previousCancel()
	}

	conn, err := c.dial(address, token)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	queue := make(chan message.Message, c.config.QueueSize)

	c.conn = conn
	c.group = group
	c.cancel = cancel
	c.state = Connected
	c.mu.Unlock()

	group.Go(func() error { return c.readLoop(ctx, conn, queue) })
	group.Go(func() error { return c.dispatchLoop(queue) })

	c.log.Info("connected", logger.F("addr", address))
	return nil
}

func (c *Client) dial(address, token string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	if c.config.ConnectionTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.ConnectionTimeout))
	}

	if err := message.WriteFrame(conn, message.MustNew(message.NameToken, token)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send token to %s: %w", address, err)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Send writes msg to the coordinator as one frame. Concurrent calls are
// serialized.
//
// Returns:
//   - nil on success; ErrNotConnected, or the write error.
func (c *Client) Send(msg message.Message) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	return message.WriteFrame(conn, msg)
}

// Terminate closes the connection and waits until every message already
// received has been handed to the handler. After Terminate the client is
// Closed. Safe to call multiple times; it must not be called from the handler.
func (c *Client) Terminate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn, group, cancel := c.conn, c.group, c.cancel
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	if cancel != nil {
		cancel()
	}

	if group != nil {
		_ = group.Wait()
	}

	c.setState(Closed)
	c.log.Debug("terminated")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}

	return nil
}

// readLoop decodes frames until the connection fails, then closes queue so
// the dispatch loop drains what is left and exits.
func (c *Client) readLoop(ctx context.Context, conn net.Conn, queue chan<- message.Message) error {
	defer close(queue)

	for {
		if c.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
				return c.dropConnection(conn, err)
			}
		}

		msg, err := message.ReadFrame(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
				errors.Is(err, net.ErrClosed) || errors.Is(err, message.ErrFrameTooLarge) {
				return c.dropConnection(conn, err)
			}

			c.log.Warn("skipping undecodable frame", logger.Err(err))
			continue
		}

		select {
		case queue <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) dispatchLoop(queue <-chan message.Message) error {
	for msg := range queue {
		if c.handler != nil {
			c.handler(msg)
		}
	}

	return nil
}

// dropConnection moves a live client back to Disconnected after a read
// failure. It is a no-op when the failure was caused by Terminate.
func (c *Client) dropConnection(conn net.Conn, cause error) error {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return nil
	}

	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn("connection lost", logger.Err(cause))
	return nil
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed && state != Closed {
		return
	}

	c.state = state
}
