package coordinator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/matchlogger/message"
)

func startServer(t *testing.T, token string) *Server {
	t.Helper()

	s := NewServer("127.0.0.1:0", token, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	return s
}

func dialWithToken(t *testing.T, s *Server, token string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", s.ListenAddr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, message.WriteFrame(conn, message.MustNew(message.NameToken, token)))
	return conn
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServer_Start(t *testing.T) {
	t.Run("binds ephemeral port", func(t *testing.T) {
		s := startServer(t, "")
		assert.NotEmpty(t, s.ListenAddr())
		assert.NotEqual(t, "127.0.0.1:0", s.ListenAddr())
	})

	t.Run("second start fails", func(t *testing.T) {
		s := startServer(t, "")
		assert.Error(t, s.Start())
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		s := NewServer("127.0.0.1:0", "", nil)
		s.Stop()
		require.NoError(t, s.Start())
		s.Stop()
		s.Stop()
	})
}

func TestServer_Handshake(t *testing.T) {
	t.Run("registers client with matching token", func(t *testing.T) {
		s := startServer(t, "team-1")
		dialWithToken(t, s, "team-1")

		ids, err := s.WaitForSessions(waitCtx(t), 1)
		require.NoError(t, err)
		require.Equal(t, []uint32{1}, ids)

		sess, ok := s.Session(1)
		require.True(t, ok)
		assert.Equal(t, "team-1", sess.Token())
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		s := startServer(t, "team-1")
		conn := dialWithToken(t, s, "intruder")

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := message.ReadFrame(conn)
		assert.Error(t, err)
		assert.Empty(t, s.SessionIDs())
	})

	t.Run("rejects non token first frame", func(t *testing.T) {
		s := startServer(t, "")
		conn, err := net.Dial("tcp", s.ListenAddr())
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, message.WriteFrame(conn, message.MustNew("hello")))

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = message.ReadFrame(conn)
		assert.Error(t, err)
	})
}

func TestServer_SendAndBroadcast(t *testing.T) {
	s := startServer(t, "")
	first := dialWithToken(t, s, "a")
	second := dialWithToken(t, s, "b")

	ids, err := s.WaitForSessions(waitCtx(t), 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	t.Run("broadcast reaches every client in order", func(t *testing.T) {
		n, err := s.Broadcast(message.MustNew("turn", 1), message.MustNew("turn", 2))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, conn := range []net.Conn{first, second} {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			for want := 1; want <= 2; want++ {
				msg, err := message.ReadFrame(conn)
				require.NoError(t, err)
				turn, err := msg.Float(0)
				require.NoError(t, err)
				assert.Equal(t, float64(want), turn)
			}
		}
	})

	t.Run("send to unknown session", func(t *testing.T) {
		assert.ErrorIs(t, s.Send(99, message.MustNew("x")), ErrUnknownSession)
	})

	t.Run("records client frames", func(t *testing.T) {
		require.NoError(t, message.WriteFrame(first, message.MustNew("ack", 7)))

		assert.Eventually(t, func() bool {
			for _, id := range s.SessionIDs() {
				sess, _ := s.Session(id)
				if sess.Token() == "a" && len(sess.Received()) == 1 {
					return sess.Received()[0].Name == "ack"
				}
			}
			return false
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestServer_DropsClosedClients(t *testing.T) {
	s := startServer(t, "")
	conn := dialWithToken(t, s, "a")

	_, err := s.WaitForSessions(waitCtx(t), 1)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return len(s.SessionIDs()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
