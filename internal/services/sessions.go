package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SessionAPI is the client of the assistant's REST session endpoint.
type SessionAPI struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// ErrSessionNotFound is returned by SessionAPI.DeleteSession when the assistant has no history for
// the session.
var ErrSessionNotFound = errors.New("session not found")

// NewSessionAPI creates a SessionAPI for the assistant at baseURL (http or https).
func NewSessionAPI(baseURL string, timeout time.Duration, logger *slog.Logger) (SessionAPI, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return SessionAPI{}, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return SessionAPI{}, fmt.Errorf("invalid base url %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	return SessionAPI{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("module", "sessions")),
	}, nil
}

// DeleteSession deletes the assistant-side history of the session. Any response other than 2xx
// is an error; a 404 wraps ErrSessionNotFound.
func (s SessionAPI) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.baseURL+"/api/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("Session deleted", slog.String("sessionID", sessionID))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
}
