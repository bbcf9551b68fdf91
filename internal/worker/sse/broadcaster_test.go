package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header http.Header
	body   []byte
	fail   bool
	mu     sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header { return m.header }

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("broken pipe")
	}
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// TestAddClient tests client registration.
func (s *BroadcasterSuite) TestAddClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.NoError(err)
	s.NotEmpty(client.ID)
	s.NotNil(client.Done)
	s.Equal(1, s.broadcaster.ClientCount())
}

// TestRemoveClient tests removal and that Done is closed exactly once.
func (s *BroadcasterSuite) TestRemoveClient() {
	client, err := s.broadcaster.AddClient(newMockResponseWriter())
	s.Require().NoError(err)

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	// A second removal must not panic on the closed channel.
	s.broadcaster.RemoveClient(client)
}

// TestPublish tests named events.
func (s *BroadcasterSuite) TestPublish() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Publish("prediction", map[string]string{"probe": "LH"})

	body := w.String()
	s.Contains(body, "event: prediction\n")
	s.Contains(body, `data: {"probe":"LH"}`)
}

// TestBroadcastMultipleClients tests fan-out.
func (s *BroadcasterSuite) TestBroadcastMultipleClients() {
	writers := make([]*mockResponseWriter, 3)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := s.broadcaster.AddClient(writers[i])
		s.Require().NoError(err)
	}

	s.broadcaster.Broadcast(map[string]string{"type": "session"})

	for i, w := range writers {
		s.Contains(w.String(), "data:", "client %d should receive data", i)
		s.NotContains(w.String(), "event:", "unnamed events carry no event line")
	}
}

// TestDeadClientRemoved tests that failing writers are dropped.
func (s *BroadcasterSuite) TestDeadClientRemoved() {
	good := newMockResponseWriter()
	bad := newMockResponseWriter()
	bad.fail = true
	_, _ = s.broadcaster.AddClient(good)
	_, _ = s.broadcaster.AddClient(bad)

	s.broadcaster.Broadcast(map[string]int{"n": 1})

	s.Equal(1, s.broadcaster.ClientCount())
	s.Contains(good.String(), `"n":1`)
}

// TestReplayBuffer tests that only the most recent messages are kept.
func (s *BroadcasterSuite) TestReplayBuffer() {
	s.broadcaster.Broadcast(map[string]string{"type": "test"})
	for i := 0; i < ReplaySize+5; i++ {
		s.broadcaster.Broadcast(map[string]int{"index": i})
	}

	recent := s.broadcaster.Recent()
	s.Len(recent, ReplaySize)
	s.Contains(recent[0], `"index":5`)
	s.Contains(recent[ReplaySize-1], fmt.Sprintf(`"index":%d`, ReplaySize+4))
}

// TestClientUniqueIDs tests that clients get unique IDs.
func TestClientUniqueIDs(t *testing.T) {
	b := NewBroadcaster()
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		client, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
		assert.False(t, ids[client.ID], "ID %s should be unique", client.ID)
		ids[client.ID] = true
	}
}

// TestHandleSSE tests the stream handshake and replay.
func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	b.Publish("prediction", map[string]string{"probe": "HH"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		b.HandleSSE(w, req)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(w.String(), `"probe":"HH"`)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.String(), "event: connected")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not return after cancel")
	}
	assert.Equal(t, 0, b.ClientCount())
}

// TestConcurrentBroadcast tests concurrent broadcasting.
func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < 10; i++ {
		_, err := b.AddClient(newMockResponseWriter())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Broadcast(map[string]int{"index": i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, b.ClientCount())
	assert.Len(t, b.Recent(), ReplaySize)
}
