// Package translator implements the translation assistant backend the chat view talks to: a
// websocket endpoint streaming replies of an LLM, and a REST endpoint deleting a session's history.
package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// LLM represents a large language model that replies to a conversation. It accepts a context and
// the conversation so far, the last message being the user's, and returns an iterator that yields
// reply fragments and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// Store persists the conversation history of every session.
type Store interface {
	EnsureSession(ctx context.Context, sessionID string) (bool, error)
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessages(ctx context.Context, sessionID string, messages ...models.Message) error
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
}

// Server serves the translator endpoints. A nil LLM is allowed: the server then stays up, answers
// health checks and session deletions, and tells every chat client the assistant is unavailable.
type Server struct {
	llm   LLM
	store Store

	upgrader websocket.Upgrader

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	writeTimeout = 10 * time.Second
)

// ErrUnavailable is reported to chat clients when the server has no LLM.
var ErrUnavailable = errors.New("the translation assistant is not available")

// NewServer creates a Server replying with llm and keeping history in store.
func NewServer(llm LLM, store Store, logger *slog.Logger) *Server {
	return &Server{
		llm:   llm,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("module", "translator")),
	}
}

// Handler returns the HTTP handler with all the translator routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.HandleHealth)
	r.Delete("/api/sessions/{sessionID}", s.HandleDeleteSession)
	r.Get("/ws/chat/{sessionID}", s.HandleChat)

	return r
}

type jsonMessage struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleHealth reports that the server is up.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jsonMessage{Status: "ok", Message: "Translator is ready."})
}

// HandleDeleteSession deletes the history of the session named in the path. It answers 404 when
// there is no such session.
func (s *Server) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	existed, err := s.store.DeleteSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("Failed to delete session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, jsonMessage{Message: "Failed to delete session history"})
		return
	}
	if !existed {
		writeJSON(w, http.StatusNotFound, jsonMessage{Message: "Session not found or already deleted"})
		return
	}

	s.logger.Info("Session history deleted", slog.String("sessionID", sessionID))
	writeJSON(w, http.StatusOK, jsonMessage{Message: "Session history deleted"})
}

// HandleChat upgrades the request to a websocket and serves the chat of the session named in the
// path. Every text frame received is a user message; the reply is streamed back as a start frame,
// chunk frames and an end frame. When the reply fails, an error frame is sent and the connection
// is closed; the failed exchange is not kept in the history.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", slog.String(errLoggerKey, err.Error()))
		return
	}
	defer conn.Close()

	logger := s.logger.With(slog.String("sessionID", sessionID))
	logger.Info("Client connected")

	if s.llm == nil {
		s.fail(conn, logger, ErrUnavailable)
		return
	}

	created, err := s.store.EnsureSession(r.Context(), sessionID)
	if err != nil {
		s.fail(conn, logger, fmt.Errorf("failed to create session: %w", err))
		return
	}
	if created {
		logger.Info("New chat session started")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Client connection lost", slog.String(errLoggerKey, err.Error()))
			} else {
				logger.Info("Client disconnected")
			}
			return
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		logger.Debug("Message received", slog.String("message", text))

		if err := s.reply(r.Context(), conn, sessionID, text); err != nil {
			s.fail(conn, logger, err)
			return
		}
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, sessionID, text string) error {
	history, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Text:      text,
		Timestamp: time.Now(),
	}
	history = append(history, userMsg)

	if err := writeFrame(conn, models.StartFrame()); err != nil {
		return err
	}

	var sb strings.Builder
	for chunk, err := range s.llm.Chat(ctx, history) {
		if err != nil {
			return fmt.Errorf("assistant failed to reply: %w", err)
		}
		if chunk == "" {
			continue
		}
		sb.WriteString(chunk)
		if err := writeFrame(conn, models.ChunkFrame(chunk)); err != nil {
			return err
		}
	}

	if err := writeFrame(conn, models.EndFrame()); err != nil {
		return err
	}

	aiMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Text:      sb.String(),
		Timestamp: time.Now(),
	}
	if err := s.store.AddMessages(ctx, sessionID, userMsg, aiMsg); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	s.logger.Debug("Reply sent",
		slog.String("sessionID", sessionID),
		slog.String("reply", aiMsg.Text))

	return nil
}

func writeFrame(conn *websocket.Conn, f models.Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// fail reports err to the client and closes the connection.
func (s *Server) fail(conn *websocket.Conn, logger *slog.Logger, err error) {
	logger.Error("Chat failed", slog.String(errLoggerKey, err.Error()))
	if werr := writeFrame(conn, models.ErrorFrame(err.Error())); werr != nil {
		logger.Warn("Failed to report error to client", slog.String(errLoggerKey, werr.Error()))
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
		time.Now().Add(time.Second))
}
