package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/chat"
	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Feed broadcasts every chat.State to the connected browsers with server-sent events. It implements
// chat.Publisher.
type Feed struct {
	sseSrv    *sse.Server
	templates *template.Template

	logger *slog.Logger
}

type message struct {
	ID        string
	Role      string
	Text      string
	Timestamp time.Time

	Streaming bool
}

type pageData struct {
	Messages  []message
	Connected bool
	Typing    bool
}

type status struct {
	Connected bool `json:"connected"`
	Typing    bool `json:"typing"`
}

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	statusSSEType   = sse.Type("status")
)

// NewFeed creates a Feed with an SSE server on the default topic and parses the templates the
// conversation is rendered with.
func NewFeed(logger *slog.Logger) (*Feed, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Feed{
		sseSrv:    &sse.Server{},
		templates: tmpl,
		logger:    logger.With(slog.String("module", "feed")),
	}, nil
}

func newPageData(state chat.State) pageData {
	msgs := make([]message, len(state.Messages))
	for i, msg := range state.Messages {
		msgs[i] = message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Text:      msg.Text,
			Timestamp: msg.Timestamp,
			// Only the reply being streamed is still loading.
			Streaming: state.Typing && i == len(state.Messages)-1 && msg.Role == models.RoleAssistant,
		}
	}
	return pageData{
		Messages:  msgs,
		Connected: state.Connected,
		Typing:    state.Typing,
	}
}

// Publish renders the conversation of state and sends it to every subscriber, followed by the
// connection status.
func (f *Feed) Publish(state chat.State) {
	data := newPageData(state)

	var sb strings.Builder
	if err := f.templates.ExecuteTemplate(&sb, "messages", data.Messages); err != nil {
		f.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(sb.String())
	if err := f.sseSrv.Publish(&msg); err != nil {
		f.logger.Error("Failed to publish messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	st, err := json.Marshal(status{Connected: data.Connected, Typing: data.Typing})
	if err != nil {
		f.logger.Error("Failed to marshal status", slog.String(errLoggerKey, err.Error()))
		return
	}
	msg = sse.Message{
		Type: statusSSEType,
	}
	msg.AppendData(string(st))
	if err := f.sseSrv.Publish(&msg); err != nil {
		f.logger.Error("Failed to publish status", slog.String(errLoggerKey, err.Error()))
	}
}

// ServeHTTP subscribes the client to the feed.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.sseSrv.ServeHTTP(w, r)
}

// Shutdown broadcasts a close message to all connected clients and waits up to 5 seconds for
// connections to terminate. After the timeout, any remaining connections are forcefully closed.
func (f *Feed) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = f.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return f.sseSrv.Shutdown(ctx)
}
