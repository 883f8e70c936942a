package handlers

import (
	"context"
	"html/template"
	"log/slog"

	mayachat "github.com/MegaGrindStone/maya-chat"
	"github.com/MegaGrindStone/maya-chat/internal/chat"
)

// View is the chat view the page drives. It is implemented by chat.View.
type View interface {
	Snapshot(ctx context.Context) (chat.State, error)
	Submit(ctx context.Context, input string) error
	Reset(ctx context.Context) error
}

// Main serves the chat page and forwards the user's actions to the View. State changes reach the
// browser through the Feed.
type Main struct {
	view View
	feed *Feed

	templates *template.Template

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a Main serving view, whose states are published by feed.
func NewMain(view View, feed *Feed, logger *slog.Logger) Main {
	return Main{
		view:      view,
		feed:      feed,
		templates: feed.templates,
		logger:    logger.With(slog.String("module", "main")),
	}
}

func parseTemplates() (*template.Template, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	return template.New("").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(
		mayachat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
}

// Shutdown gracefully terminates the Feed.
func (m Main) Shutdown(ctx context.Context) error {
	return m.feed.Shutdown(ctx)
}
