// Package coordinator is a loopback stand-in for the match coordinator. It
// accepts session clients over TCP, checks the token each client sends first
// and lets tests push event messages to the connected clients. It exists to
// exercise the network transport and the session controller end to end.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/matchlogger/logger"
	"github.com/cyberinferno/matchlogger/message"
)

// HandshakeTimeout bounds how long a new client may take to send its token.
const HandshakeTimeout = 5 * time.Second

// ErrUnknownSession is returned by Send for an ID with no live session.
var ErrUnknownSession = errors.New("unknown session")

// Server accepts clients and keeps one Session per authenticated connection.
type Server struct {
	Logger logger.Logger
	Name   string
	// Addr is the listen address; use "127.0.0.1:0" for an ephemeral port.
	Addr string
	// Token, when non-empty, is the only token accepted; other clients are
	// disconnected right after their first frame.
	Token string

	listener net.Listener
	sessions registry
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer returns a Server that has not started listening yet.
//
// Parameters:
//   - addr: Listen address, e.g. "127.0.0.1:0"
//   - token: Required client token; empty accepts any
//   - log: Logger for accept and handshake failures
func NewServer(addr, token string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Server{
		Logger: log,
		Name:   "coordinator",
		Addr:   addr,
		Token:  token,
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or listening fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running.Store(true)
	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.F("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when an
// ephemeral port was requested. Empty before Start.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop closes the listener and every session and waits for all connection
// goroutines to exit. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()
	s.sessions.each(func(sess *Session) bool {
		_ = sess.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Session returns the live session with the given ID.
func (s *Server) Session(id uint32) (*Session, bool) {
	return s.sessions.load(id)
}

// SessionIDs returns the IDs of all live sessions in ascending order.
func (s *Server) SessionIDs() []uint32 {
	return s.sessions.ids()
}

// WaitForSessions blocks until at least n sessions are live.
//
// Returns:
//   - The live session IDs, or the context error if ctx ends first
func (s *Server) WaitForSessions(ctx context.Context, n int) ([]uint32, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ids := s.sessions.ids(); len(ids) >= n {
			return ids, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send writes msgs, in order, to the session with the given ID.
func (s *Server) Send(id uint32, msgs ...message.Message) error {
	sess, ok := s.sessions.load(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}

	for _, msg := range msgs {
		if err := sess.Send(msg); err != nil {
			return fmt.Errorf("send %q to session %d: %w", msg.Name, id, err)
		}
	}

	return nil
}

// Broadcast writes msgs, in order, to every live session concurrently.
//
// Returns:
//   - The number of sessions written to, and the first send error if any
func (s *Server) Broadcast(msgs ...message.Message) (int, error) {
	var g errgroup.Group
	var count atomic.Int32

	s.sessions.each(func(sess *Session) bool {
		g.Go(func() error {
			if err := s.Send(sess.id, msgs...); err != nil {
				return err
			}

			count.Add(1)
			return nil
		})
		return true
	})

	err := g.Wait()
	return int(count.Load()), err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	first, err := message.ReadFrame(conn)
	if err != nil {
		s.Logger.Warn("handshake failed", logger.Err(err))
		_ = conn.Close()
		return
	}

	token, err := first.String(0)
	if first.Name != message.NameToken || err != nil || (s.Token != "" && token != s.Token) {
		s.Logger.Warn("rejected client", logger.F("name", first.Name))
		_ = conn.Close()
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	sess := &Session{id: s.sessions.nextID(), conn: conn, token: token}
	s.sessions.store(sess)
	defer s.sessions.delete(sess.id)

	// Stop may have swept the registry before this session was stored.
	if !s.running.Load() {
		_ = sess.Close()
		return
	}

	for {
		msg, err := message.ReadFrame(conn)
		if err != nil {
			_ = sess.Close()
			return
		}

		sess.record(msg)
	}
}
