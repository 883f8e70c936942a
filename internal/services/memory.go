package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/maya-chat/internal/models"
)

// Memory is a history Store kept in process memory. Conversations are lost when the translator
// stops.
type Memory struct {
	mu       sync.Mutex
	sessions map[string][]models.Message
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]models.Message)}
}

// EnsureSession creates the session if it doesn't exist yet, and reports whether it did.
func (m *Memory) EnsureSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; ok {
		return false, nil
	}
	m.sessions[sessionID] = nil
	return true, nil
}

func (m *Memory) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.sessions[sessionID]), nil
}

func (m *Memory) AddMessages(_ context.Context, sessionID string, messages ...models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	m.sessions[sessionID] = append(msgs, messages...)
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(m.sessions, sessionID)
	return true, nil
}
