package coordinator

import (
	"net"
	"sync"

	"github.com/cyberinferno/matchlogger/message"
)

// Session is one accepted client connection. Frames the client sends after
// its token are recorded and can be read with Received.
type Session struct {
	id    uint32
	conn  net.Conn
	token string

	writeMu sync.Mutex

	mu       sync.Mutex
	received []message.Message
	closed   bool
}

// ID returns the session ID assigned by the server.
func (s *Session) ID() uint32 {
	return s.id
}

// Token returns the token the client authenticated with.
func (s *Session) Token() string {
	return s.token
}

// Send writes msg to the client as one frame.
func (s *Session) Send(msg message.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return message.WriteFrame(s.conn, msg)
}

// Received returns a copy of the messages the client sent after its token.
func (s *Session) Received() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.received...)
}

// Close closes the connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.conn.Close()
}

func (s *Session) record(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
}
