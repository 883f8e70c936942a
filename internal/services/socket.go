package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/gorilla/websocket"
)

// Socket manages the single websocket connection between the chat view and the assistant. The
// connection is scoped to a session identifier; lifecycle changes and decoded frames are delivered
// as models.Event values on the events channel given to NewSocket.
//
// When the connection drops or cannot be established, Socket reconnects the same session after a
// fixed delay, forever. Close and Shutdown cancel any pending reconnect.
type Socket struct {
	baseURL    string
	retryDelay time.Duration
	dialer     *websocket.Dialer

	events chan<- models.Event
	done   chan struct{}

	mu        sync.Mutex
	state     socketState
	sessionID string
	// gen identifies the current connection attempt. Goroutines and timers of older attempts
	// compare their generation with it and stand down when it moved on.
	gen      uint64
	conn     *websocket.Conn
	retry    *time.Timer
	shutdown bool

	logger *slog.Logger
}

type socketState int

const (
	socketIdle socketState = iota
	socketConnecting
	socketOpen
)

const (
	socketDialTimeout  = 10 * time.Second
	socketWriteTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Socket.Send when there is no open connection.
var ErrNotConnected = errors.New("socket is not connected")

// NewSocket creates a Socket for the assistant at baseURL, which may use the http, https, ws or
// wss scheme. The chat endpoint for a session is <baseURL>/ws/chat/<session-id>.
func NewSocket(baseURL string, retryDelay time.Duration, events chan<- models.Event, logger *slog.Logger) (*Socket, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}

	return &Socket{
		baseURL:    wsURL,
		retryDelay: retryDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: socketDialTimeout,
		},
		events: events,
		done:   make(chan struct{}),
		logger: logger.With(slog.String("module", "socket")),
	}, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid base url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (s *Socket) endpoint(sessionID string) string {
	return s.baseURL + "/ws/chat/" + url.PathEscape(sessionID)
}

// Connect opens the connection for sessionID in the background. It does nothing when a connection
// is already open or opening.
func (s *Socket) Connect(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectLocked(sessionID)
}

func (s *Socket) connectLocked(sessionID string) {
	if s.shutdown || s.state != socketIdle {
		return
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}

	s.gen++
	s.sessionID = sessionID
	s.state = socketConnecting

	go s.run(s.gen, sessionID)
}

func (s *Socket) run(gen uint64, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), socketDialTimeout)
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint(sessionID), nil)
	cancel()
	if err != nil {
		s.dropped(gen, sessionID, err)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = socketOpen
	s.mu.Unlock()

	s.logger.Info("Connected", slog.String("sessionID", sessionID))
	s.emit(models.Event{Kind: models.EventConnected, SessionID: sessionID})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropped(gen, sessionID, err)
			return
		}

		ev, err := models.ParseFrame(data)
		if err != nil {
			s.logger.Warn("Ignoring frame",
				slog.String("frame", string(data)),
				slog.String(errLoggerKey, err.Error()))
			continue
		}
		ev.SessionID = sessionID
		s.emit(ev)
	}
}

// dropped handles the end of the connection attempt gen. Attempts that were closed on purpose
// are already superseded and end silently; anything else is reported and retried once after
// the fixed delay.
func (s *Socket) dropped(gen uint64, sessionID string, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = socketIdle
	s.mu.Unlock()

	s.logger.Warn("Disconnected",
		slog.String("sessionID", sessionID),
		slog.Duration("retryIn", s.retryDelay),
		slog.String(errLoggerKey, cause.Error()))
	s.emit(models.Event{Kind: models.EventDisconnected, SessionID: sessionID})

	s.mu.Lock()
	defer s.mu.Unlock()

	// The disconnect must reach the view before the retry can report a new connection.
	if gen != s.gen || s.shutdown || s.state != socketIdle {
		return
	}
	s.retry = time.AfterFunc(s.retryDelay, func() { s.reconnect(gen, sessionID) })
}

func (s *Socket) reconnect(gen uint64, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}
	s.retry = nil
	s.connectLocked(sessionID)
}

func (s *Socket) emit(ev models.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Send writes text as a single text frame on the open connection.
func (s *Socket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != socketOpen || s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the current connection without reconnecting and cancels a pending reconnect. The
// closed connection does not report a disconnect.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
}

func (s *Socket) closeLocked() {
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = socketIdle
}

// Shutdown closes the connection and disposes the Socket: later Connect calls do nothing and no
// event is delivered anymore.
func (s *Socket) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return
	}
	s.shutdown = true
	s.closeLocked()
	close(s.done)
}
