package handlers

import (
	"log/slog"
	"net/http"
)

// HandleHome renders the chat page with the current conversation.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := m.view.Snapshot(r.Context())
	if err != nil {
		m.viewError(w, err)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", newPageData(state)); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
