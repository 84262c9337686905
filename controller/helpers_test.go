package controller

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/matchlogger/config"
	"github.com/cyberinferno/matchlogger/logger"
	"github.com/cyberinferno/matchlogger/message"
)

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every entry so tests can assert on reported failures.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg})
}

func (r *recordingLogger) Debug(msg string, _ ...logger.Field) { r.add("debug", msg) }
func (r *recordingLogger) Info(msg string, _ ...logger.Field)  { r.add("info", msg) }
func (r *recordingLogger) Warn(msg string, _ ...logger.Field)  { r.add("warn", msg) }
func (r *recordingLogger) Error(msg string, _ ...logger.Field) { r.add("error", msg) }
func (r *recordingLogger) With(...logger.Field) logger.Logger  { return r }
func (r *recordingLogger) Close() error                        { return nil }

func (r *recordingLogger) count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range *r.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// fakeTransport becomes connected on the Connect call numbered connectOn.
type fakeTransport struct {
	mu sync.Mutex

	connectOn    int
	terminateErr error

	handler        func(message.Message)
	host           string
	port           int
	token          string
	connects       int
	connected      bool
	terminates     int
	isConnectedLog []bool
}

func (f *fakeTransport) SetConnectionData(host string, port int, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host, f.port, f.token = host, port, token
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if f.connects >= f.connectOn {
		f.connected = true
		return nil
	}

	return errors.New("connection refused")
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.isConnectedLog = append(f.isConnectedLog, f.connected)
	return f.connected
}

func (f *fakeTransport) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.terminates++
	return f.terminateErr
}

// deliver invokes the registered handler the way a transport delivery goroutine would.
func (f *fakeTransport) deliver(msgs ...message.Message) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	for _, m := range msgs {
		handler(m)
	}
}

func (f *fakeTransport) snapshot() (connects, terminates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.terminates
}

func (f *fakeTransport) factory(built *int) TransportFactory {
	return func(handler func(message.Message)) Transport {
		f.mu.Lock()
		f.handler = handler
		f.mu.Unlock()
		if built != nil {
			*built++
		}
		return f
	}
}

// sleepRecorder replaces time.Sleep and records every requested delay.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Token = "team-1"
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.LogPath = filepath.Join(dir, "game.log")
	cfg.ResultPath = filepath.Join(dir, "result.json")
	return cfg
}

// startAsync runs Start on its own goroutine and waits for the Running state.
func startAsync(t *testing.T, c *Controller) {
	t.Helper()

	go c.Start()
	require.Eventually(t, func() bool { return c.State() == Running }, 2*time.Second, time.Millisecond)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}
}

func readLog(t *testing.T, path string) []message.Message {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	msgs, err := message.ReadLog(f)
	require.NoError(t, err)
	return msgs
}
