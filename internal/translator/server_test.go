package translator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/MegaGrindStone/maya-chat/internal/translator"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	responses []string
	err       error

	mu    sync.Mutex
	calls [][]models.Message
}

func (m *mockLLM) Chat(_ context.Context, messages []models.Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockLLM) lastCall() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func newTestServer(t *testing.T, llm translator.LLM) (*httptest.Server, *services.Memory) {
	t.Helper()

	store := services.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(translator.NewServer(llm, store, logger).Handler())
	t.Cleanup(srv.Close)

	return srv, store
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// waitHistory waits until the session holds n messages; the exchange is saved after the end frame.
func waitHistory(t *testing.T, store *services.Memory, sessionID string, n int) []models.Message {
	t.Helper()

	var history []models.Message
	require.Eventually(t, func() bool {
		msgs, err := store.Messages(context.Background(), sessionID)
		if err != nil {
			return false
		}
		history = msgs
		return len(msgs) == n
	}, 2*time.Second, 10*time.Millisecond)

	return history
}

func TestHandleChatStreamsReply(t *testing.T) {
	llm := &mockLLM{responses: []string{"Ma'alob", "", " k'iin"}}
	srv, store := newTestServer(t, llm)
	conn := dial(t, srv, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("buenos días")))

	assert.JSONEq(t, `{"type":"start"}`, readFrame(t, conn))
	assert.JSONEq(t, `{"type":"chunk","content":"Ma'alob"}`, readFrame(t, conn))
	assert.JSONEq(t, `{"type":"chunk","content":" k'iin"}`, readFrame(t, conn))
	assert.JSONEq(t, `{"type":"end"}`, readFrame(t, conn))

	history := waitHistory(t, store, "s1", 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "buenos días", history[0].Text)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Ma'alob k'iin", history[1].Text)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("gracias")))
	for range 4 {
		readFrame(t, conn)
	}

	last := llm.lastCall()
	require.Len(t, last, 3)
	assert.Equal(t, "gracias", last[2].Text)
}

func TestHandleChatReplyFailure(t *testing.T) {
	llm := &mockLLM{responses: []string{"Ma'a"}, err: errors.New("quota exceeded")}
	srv, store := newTestServer(t, llm)
	conn := dial(t, srv, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hola")))

	assert.JSONEq(t, `{"type":"start"}`, readFrame(t, conn))
	assert.JSONEq(t, `{"type":"chunk","content":"Ma'a"}`, readFrame(t, conn))

	var f models.Frame
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &f))
	require.NotNil(t, f.Error)
	assert.Contains(t, *f.Error, "quota exceeded")

	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	history, err := store.Messages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleChatWithoutLLM(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dial(t, srv, "s1")

	var f models.Frame
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &f))
	require.NotNil(t, f.Error)
	assert.Equal(t, translator.ErrUnavailable.Error(), *f.Error)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHandleDeleteSession(t *testing.T) {
	srv, store := newTestServer(t, &mockLLM{})

	_, err := store.EnsureSession(context.Background(), "s1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		sessionID  string
		wantStatus int
	}{
		{name: "existing session", sessionID: "s1", wantStatus: http.StatusOK},
		{name: "already deleted", sessionID: "s1", wantStatus: http.StatusNotFound},
		{name: "unknown session", sessionID: "nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+tt.sessionID, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatSessionSurvivesReconnect(t *testing.T) {
	llm := &mockLLM{responses: []string{"Ma'alob"}}
	srv, store := newTestServer(t, llm)

	conn := dial(t, srv, "s1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hola")))
	for range 3 {
		readFrame(t, conn)
	}
	waitHistory(t, store, "s1", 2)
	require.NoError(t, conn.Close())

	conn = dial(t, srv, "s1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("adiós")))
	for range 3 {
		readFrame(t, conn)
	}

	last := llm.lastCall()
	require.Len(t, last, 3)
	assert.Equal(t, "hola", last[0].Text)
	assert.Equal(t, "Ma'alob", last[1].Text)
}
