package chat

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/google/uuid"
)

// State is the whole view state: the conversation and the flags the page renders. It is a value;
// every transition returns a new State and never mutates the receiver's message slice.
type State struct {
	SessionID string
	Messages  []models.Message
	Connected bool
	Typing    bool
}

var (
	// ErrEmptyInput is returned when the submitted text is blank.
	ErrEmptyInput = errors.New("message is empty")
	// ErrDisconnected is returned when a message is submitted while the socket is not open.
	ErrDisconnected = errors.New("not connected to the assistant")
	// ErrStreaming is returned when a message is submitted while a reply is still streaming.
	ErrStreaming = errors.New("assistant is still replying")
)

// NewState returns the state of a fresh conversation holding only the welcome message.
func NewState(sessionID, welcome string) State {
	return State{
		SessionID: sessionID,
		Messages:  []models.Message{newMessage(models.RoleAssistant, welcome)},
	}
}

func newMessage(role models.Role, text string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Apply folds a connection event into the state. Apply does not look at ev.SessionID; filtering
// events of replaced sessions is up to the caller.
func (s State) Apply(ev models.Event) State {
	switch ev.Kind {
	case models.EventConnected:
		s.Connected = true
	case models.EventDisconnected:
		s.Connected = false
	case models.EventStart:
		if !s.hasOpenReply() {
			s.Messages = append(slices.Clip(s.Messages), newMessage(models.RoleAssistant, ""))
		}
		s.Typing = true
	case models.EventChunk:
		if !s.Typing || !s.lastIs(models.RoleAssistant) {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		s.Messages[len(s.Messages)-1].Text += ev.Content
	case models.EventEnd:
		s.Typing = false
	case models.EventError:
		s.Typing = false
		s = s.AppendSystem(ev.Content)
	}
	return s
}

// hasOpenReply reports whether the last message can take the fragments of a new reply: it is
// the reply currently streaming, or an assistant placeholder that got no text yet.
func (s State) hasOpenReply() bool {
	if !s.lastIs(models.RoleAssistant) {
		return false
	}
	return s.Typing || s.Messages[len(s.Messages)-1].Text == ""
}

func (s State) lastIs(role models.Role) bool {
	return len(s.Messages) > 0 && s.Messages[len(s.Messages)-1].Role == role
}

// Accept validates a submission against the state and returns the text to transmit.
func (s State) Accept(input string) (string, error) {
	text := strings.TrimSpace(input)
	switch {
	case text == "":
		return "", ErrEmptyInput
	case !s.Connected:
		return "", ErrDisconnected
	case s.Typing:
		return "", ErrStreaming
	}
	return text, nil
}

// AppendUser appends a message typed by the user.
func (s State) AppendUser(text string) State {
	s.Messages = append(slices.Clip(s.Messages), newMessage(models.RoleUser, text))
	return s
}

// AppendSystem appends a locally produced error message.
func (s State) AppendSystem(text string) State {
	s.Messages = append(slices.Clip(s.Messages), newMessage(models.RoleSystem, text))
	return s
}
