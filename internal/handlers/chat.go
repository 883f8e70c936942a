package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/maya-chat/internal/chat"
)

// HandleMessages submits the "message" form field to the assistant. The message shows up in the
// conversation through the Feed; the response itself has no body. A rejected message is answered
// with 422 and the reason.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := m.view.Submit(r.Context(), r.FormValue("message"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, chat.ErrEmptyInput),
		errors.Is(err, chat.ErrDisconnected),
		errors.Is(err, chat.ErrStreaming):
		m.logger.Warn("Message rejected", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		m.viewError(w, err)
	}
}

// HandleReset starts a new conversation. Failing to clear the assistant-side history is reported
// in the conversation, not in the response.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.view.Reset(r.Context()); err != nil {
		m.viewError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE subscribes the client to the conversation updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.feed.ServeHTTP(w, r)
}

func (m Main) viewError(w http.ResponseWriter, err error) {
	m.logger.Error("Chat view unavailable", slog.String(errLoggerKey, err.Error()))
	if errors.Is(err, chat.ErrClosed) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
