package services_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testAssistant struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions []string

	conns    chan *websocket.Conn
	received chan string
}

func newTestAssistant(t *testing.T) (*testAssistant, *httptest.Server) {
	t.Helper()

	a := &testAssistant{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan string, 8),
	}
	srv := httptest.NewServer(a)
	return a, srv
}

func (a *testAssistant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	a.mu.Lock()
	a.sessions = append(a.sessions, strings.TrimPrefix(r.URL.Path, "/ws/chat/"))
	a.mu.Unlock()

	a.conns <- conn

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		a.received <- string(data)
	}
}

func (a *testAssistant) connectedSessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sessions...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextEvent(t *testing.T, events <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Event{}
	}
}

func noEvent(t *testing.T, events <-chan models.Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func nextConn(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func TestSocketStreamsFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, srv := newTestAssistant(t)
	defer srv.Close()

	events := make(chan models.Event, 16)
	sock, err := services.NewSocket(srv.URL, time.Hour, events, testLogger())
	require.NoError(t, err)
	defer sock.Shutdown()

	require.ErrorIs(t, sock.Send("too early"), services.ErrNotConnected)

	sock.Connect("abc-123")
	assert.Equal(t, models.Event{Kind: models.EventConnected, SessionID: "abc-123"}, nextEvent(t, events))
	assert.Equal(t, []string{"abc-123"}, a.connectedSessions())

	require.NoError(t, sock.Send("buenos días"))
	select {
	case got := <-a.received:
		assert.Equal(t, "buenos días", got)
	case <-time.After(2 * time.Second):
		t.Fatal("assistant did not receive the message")
	}

	conn := nextConn(t, a.conns)
	require.NoError(t, conn.WriteJSON(models.StartFrame()))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))
	require.NoError(t, conn.WriteJSON(models.ChunkFrame("Ma'alob")))
	require.NoError(t, conn.WriteJSON(models.EndFrame()))
	require.NoError(t, conn.WriteJSON(models.ErrorFrame("boom")))

	want := []models.Event{
		{Kind: models.EventStart, SessionID: "abc-123"},
		{Kind: models.EventChunk, SessionID: "abc-123", Content: "Ma'alob"},
		{Kind: models.EventEnd, SessionID: "abc-123"},
		{Kind: models.EventError, SessionID: "abc-123", Content: "boom"},
	}
	for _, w := range want {
		assert.Equal(t, w, nextEvent(t, events))
	}
}

func TestSocketReconnectsAfterDrop(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, srv := newTestAssistant(t)
	defer srv.Close()

	events := make(chan models.Event, 16)
	sock, err := services.NewSocket(srv.URL, 20*time.Millisecond, events, testLogger())
	require.NoError(t, err)
	defer sock.Shutdown()

	sock.Connect("s1")
	require.Equal(t, models.EventConnected, nextEvent(t, events).Kind)

	_ = nextConn(t, a.conns).Close()

	assert.Equal(t, models.Event{Kind: models.EventDisconnected, SessionID: "s1"}, nextEvent(t, events))
	assert.Equal(t, models.Event{Kind: models.EventConnected, SessionID: "s1"}, nextEvent(t, events))
	assert.Equal(t, []string{"s1", "s1"}, a.connectedSessions())
}

func TestSocketRetriesFailedDial(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, srv := newTestAssistant(t)
	url := srv.URL
	srv.Close()

	events := make(chan models.Event, 16)
	sock, err := services.NewSocket(url, 10*time.Millisecond, events, testLogger())
	require.NoError(t, err)

	sock.Connect("s1")
	for range 3 {
		assert.Equal(t, models.Event{Kind: models.EventDisconnected, SessionID: "s1"}, nextEvent(t, events))
	}

	sock.Shutdown()
}

func TestSocketConnectIsNoopWhileOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, srv := newTestAssistant(t)
	defer srv.Close()

	events := make(chan models.Event, 16)
	sock, err := services.NewSocket(srv.URL, time.Hour, events, testLogger())
	require.NoError(t, err)
	defer sock.Shutdown()

	sock.Connect("s1")
	sock.Connect("s1")
	require.Equal(t, models.EventConnected, nextEvent(t, events).Kind)
	sock.Connect("s1")
	sock.Connect("s2")

	noEvent(t, events, 100*time.Millisecond)
	assert.Equal(t, []string{"s1"}, a.connectedSessions())
}

func TestSocketCloseDoesNotReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, srv := newTestAssistant(t)
	defer srv.Close()

	events := make(chan models.Event, 16)
	sock, err := services.NewSocket(srv.URL, 10*time.Millisecond, events, testLogger())
	require.NoError(t, err)
	defer sock.Shutdown()

	sock.Connect("old")
	require.Equal(t, models.EventConnected, nextEvent(t, events).Kind)

	sock.Close()
	require.ErrorIs(t, sock.Send("hola"), services.ErrNotConnected)
	noEvent(t, events, 100*time.Millisecond)

	sock.Connect("new")
	assert.Equal(t, models.Event{Kind: models.EventConnected, SessionID: "new"}, nextEvent(t, events))
	assert.Equal(t, []string{"old", "new"}, a.connectedSessions())
}

func TestSocketShutdownStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, srv := newTestAssistant(t)
	defer srv.Close()

	events := make(chan models.Event)
	sock, err := services.NewSocket(srv.URL, 10*time.Millisecond, events, testLogger())
	require.NoError(t, err)

	sock.Connect("s1")
	require.Equal(t, models.EventConnected, nextEvent(t, events).Kind)

	sock.Shutdown()
	sock.Shutdown()
	sock.Connect("s2")

	noEvent(t, events, 100*time.Millisecond)
	assert.Equal(t, []string{"s1"}, a.connectedSessions())
}

func TestNewSocketRejectsBadURL(t *testing.T) {
	_, err := services.NewSocket("ftp://example.com", time.Second, make(chan models.Event), testLogger())
	require.Error(t, err)
}
