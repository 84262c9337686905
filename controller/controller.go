// Package controller implements the session controller of the match logger.
//
// A Controller connects to the coordinator through a Transport, retrying at a
// fixed interval until the connection is up, then records every message the
// coordinator delivers to a null-separated log file while tracking the score
// pair carried by status messages. A shutdown message releases the blocked
// Start call, which closes the log, writes the final scores to the result
// file and terminates the transport.
//
// Failures are never returned to the caller. They are reported through the
// logger and the session stops where it failed; a missing result file is the
// failure signal for whoever launched the session.
package controller

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/matchlogger/config"
	"github.com/cyberinferno/matchlogger/logger"
	"github.com/cyberinferno/matchlogger/message"
	"github.com/cyberinferno/matchlogger/network"
	"github.com/cyberinferno/matchlogger/scoreboard"
)

// publishTimeout bounds a single scoreboard write.
const publishTimeout = 2 * time.Second

// Transport is the connection to the coordinator as seen by the controller.
// network.Client is the production implementation.
type Transport interface {
	// SetConnectionData sets the target and credential used by Connect.
	SetConnectionData(host string, port int, token string)
	// Connect makes one connection attempt.
	Connect() error
	// IsConnected reports whether the last attempt left a live connection.
	IsConnected() bool
	// Terminate releases the connection and stops message delivery.
	Terminate() error
}

// TransportFactory builds the Transport for a session, registering handler
// as the callback for delivered messages.
type TransportFactory func(handler func(message.Message)) Transport

// State is the lifecycle stage of a Controller.
type State int32

const (
	NotConnected State = iota // constructed, Start not called yet
	Connecting                // retrying Connect at the fixed delay
	Running                   // connected, waiting for shutdown
	Terminating               // shutdown received, writing the result
	Finalized                 // result written and transport terminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case NotConnected:
		return "NotConnected"
	case Connecting:
		return "Connecting"
	case Running:
		return "Running"
	case Terminating:
		return "Terminating"
	case Finalized:
		return "Finalized"
	default:
		return "Unknown"
	}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the reporting facility. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithTransportFactory replaces the default network.Client transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Controller) {
		c.newTransport = f
	}
}

// WithSleeper replaces time.Sleep in the connect retry loop.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// WithScoreboard mirrors every score update, keyed by the session token, to b.
func WithScoreboard(b scoreboard.Scoreboard) Option {
	return func(c *Controller) {
		c.board = b
	}
}

// Controller owns one logging session. Create it with New and call Start
// exactly once.
type Controller struct {
	cfg          config.Config
	log          logger.Logger
	newTransport TransportFactory
	sleep        func(time.Duration)
	board        scoreboard.Scoreboard

	// mu serializes message handling and guards the log sink and scores.
	mu     sync.Mutex
	logOut *os.File
	score0 float64
	score1 float64

	terminator *latch
	state      atomic.Int32
	started    atomic.Bool
	done       chan struct{}
}

// New creates a Controller for cfg. The configuration is copied; later
// changes by the caller have no effect.
//
// Parameters:
//   - cfg: Session configuration (address, token, retry delay, output paths)
//   - opts: Optional overrides for logging, transport, sleeping and score mirroring
//
// Returns:
//   - A Controller in the NotConnected state
func New(cfg config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		sleep:      time.Sleep,
		terminator: newLatch(),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logger.NewNopLogger()
	}
	c.log = c.log.With(logger.F("component", "controller"))

	if c.newTransport == nil {
		c.newTransport = c.defaultTransport
	}

	return c
}

func (c *Controller) defaultTransport(handler func(message.Message)) Transport {
	netCfg := network.DefaultConfig()
	if c.cfg.ConnectTimeout > 0 {
		netCfg.ConnectionTimeout = c.cfg.ConnectTimeout
	}

	return network.NewClient(handler, netCfg, c.log)
}

// Start runs the session: it opens the log file, connects (retrying forever
// at the configured delay), blocks until a shutdown message arrives, then
// writes the result file and terminates the transport. Errors are reported
// through the logger and end the session early. Calls after the first
// return immediately.
func (c *Controller) Start() {
	if !c.started.CompareAndSwap(false, true) {
		c.log.Warn("session already started")
		return
	}
	defer close(c.done)

	if err := c.run(); err != nil {
		c.log.Error("can not run the session", logger.Err(err), logger.F("state", c.State().String()))
	}
}

func (c *Controller) run() error {
	logOut, err := os.OpenFile(c.cfg.LogPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	c.mu.Lock()
	c.logOut = logOut
	c.mu.Unlock()

	transport := c.newTransport(c.HandleMessage)
	transport.SetConnectionData(c.cfg.Host, c.cfg.Port, c.cfg.Token)

	c.setState(Connecting)
	attempts := 0
	for !transport.IsConnected() {
		c.sleep(c.cfg.RetryDelay)
		attempts++
		if err := transport.Connect(); err != nil {
			c.log.Debug("connect attempt failed", logger.F("attempt", attempts), logger.Err(err))
		}
	}

	c.setState(Running)
	c.log.Info("session running", logger.F("addr", c.cfg.Address()), logger.F("attempts", attempts))

	c.terminator.Wait()
	c.setState(Terminating)

	if err := c.closeLog(); err != nil {
		return err
	}

	s0, s1 := c.Scores()
	if err := c.writeResult(s0, s1); err != nil {
		return err
	}

	if err := transport.Terminate(); err != nil {
		return fmt.Errorf("terminate transport: %w", err)
	}

	c.setState(Finalized)
	c.log.Info("session finalized", logger.F("score0", s0), logger.F("score1", s1))
	c.publish(s0, s1, true)

	return nil
}

// HandleMessage is the delivery callback registered with the transport. A
// status message updates the score pair and is then logged like any other
// message; a shutdown message releases Start and is never logged. Messages
// delivered after shutdown are dropped. Safe for concurrent use.
func (c *Controller) HandleMessage(msg message.Message) {
	if s0, s1, updated := c.handleLocked(msg); updated {
		// The scoreboard is written without c.mu so a slow store never
		// blocks other deliveries or Scores.
		c.publish(s0, s1, false)
	}
}

// handleLocked applies msg under c.mu and reports the new score pair when msg
// was a well-formed status update.
func (c *Controller) handleLocked(msg message.Message) (s0, s1 float64, updated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminator.Signaled() {
		c.log.Debug("message after shutdown dropped", logger.F("name", msg.Name))
		return 0, 0, false
	}

	c.log.Debug("message received", logger.F("name", msg.Name))

	switch msg.Name {
	case message.NameStatus:
		updated = c.updateScores(msg)
		s0, s1 = c.score0, c.score1
	case message.NameShutdown:
		c.terminator.Signal()
		return 0, 0, false
	}

	record, err := message.AppendLogRecord(nil, msg)
	if err != nil {
		c.log.Error("can not encode message", logger.F("name", msg.Name), logger.Err(err))
		return s0, s1, updated
	}

	if c.logOut == nil {
		c.log.Error("log file is not open", logger.F("name", msg.Name))
		return s0, s1, updated
	}

	if _, err := c.logOut.Write(record); err != nil {
		c.log.Error("can not write log record", logger.F("name", msg.Name), logger.Err(err))
	}

	return s0, s1, updated
}

// updateScores applies a status message; caller holds c.mu. A malformed
// message leaves both scores unchanged and reports false.
func (c *Controller) updateScores(msg message.Message) bool {
	s0, err := msg.Float(1)
	if err != nil {
		c.log.Warn("malformed status message", logger.Err(err))
		return false
	}

	s1, err := msg.Float(2)
	if err != nil {
		c.log.Warn("malformed status message", logger.Err(err))
		return false
	}

	c.score0, c.score1 = s0, s1
	return true
}

func (c *Controller) publish(s0, s1 float64, final bool) {
	if c.board == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := c.board.Publish(ctx, c.cfg.Token, scoreboard.Scores{Score0: s0, Score1: s1, Final: final})
	if err != nil {
		c.log.Warn("can not publish scores", logger.Err(err))
	}
}

func (c *Controller) closeLog() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logOut == nil {
		return nil
	}

	err := c.logOut.Close()
	c.logOut = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	return nil
}

func (c *Controller) writeResult(s0, s1 float64) error {
	out, err := os.Create(c.cfg.ResultPath)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}

	if _, err := out.WriteString(FormatResult(s0, s1, c.cfg.ResultPrecision)); err != nil {
		_ = out.Close()
		return fmt.Errorf("write result file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}

	return nil
}

// FormatResult renders the result file line "[<score0>, <score1>]\n".
// precision is the number of fractional digits; -1 selects the shortest
// form that round-trips, always keeping at least one fractional digit.
func FormatResult(score0, score1 float64, precision int) string {
	return "[" + formatScore(score0, precision) + ", " + formatScore(score1, precision) + "]\n"
}

func formatScore(v float64, precision int) string {
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if precision < 0 && !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}

	return s
}

// Scores returns the current score pair.
func (c *Controller) Scores() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.score0, c.score1
}

// State returns the lifecycle stage of the session.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done returns a channel closed when Start returns, whether the session
// finalized or stopped on an error.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug("state changed", logger.F("state", s.String()))
}
