package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies what happened on a chat connection.
type EventKind string

const (
	// EventConnected is emitted when the socket for a session opens.
	EventConnected EventKind = "connected"
	// EventDisconnected is emitted when the socket closes or fails.
	EventDisconnected EventKind = "disconnected"

	// EventStart opens a new assistant reply.
	EventStart EventKind = "start"
	// EventChunk carries a fragment of the open assistant reply.
	EventChunk EventKind = "chunk"
	// EventEnd closes the open assistant reply.
	EventEnd EventKind = "end"
	// EventError carries an application-level error reported by the assistant.
	EventError EventKind = "error"
)

// Event is a single observation from the chat connection, either a socket lifecycle change or a
// decoded frame. SessionID tells which session the event belongs to, so events of a replaced
// session can be discarded.
type Event struct {
	Kind      EventKind
	SessionID string

	// Content is the fragment text for EventChunk and the error text for EventError.
	Content string
}

// Frame is the JSON object exchanged on the chat socket from the assistant to the view.
type Frame struct {
	Type    string  `json:"type,omitempty"`
	Content string  `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// ErrUnknownFrame is returned by ParseFrame for well-formed JSON that is not a chat frame.
var ErrUnknownFrame = errors.New("unknown frame")

// ParseFrame decodes a frame received from the assistant into an Event.
func ParseFrame(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	if f.Error != nil {
		return Event{Kind: EventError, Content: *f.Error}, nil
	}

	switch EventKind(f.Type) {
	case EventStart:
		return Event{Kind: EventStart}, nil
	case EventChunk:
		return Event{Kind: EventChunk, Content: f.Content}, nil
	case EventEnd:
		return Event{Kind: EventEnd}, nil
	}

	return Event{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
}

// StartFrame returns the frame that opens an assistant reply.
func StartFrame() Frame { return Frame{Type: string(EventStart)} }

// ChunkFrame returns the frame that carries a reply fragment.
func ChunkFrame(content string) Frame { return Frame{Type: string(EventChunk), Content: content} }

// EndFrame returns the frame that closes an assistant reply.
func EndFrame() Frame { return Frame{Type: string(EventEnd)} }

// ErrorFrame returns the frame that reports an error to the view.
func ErrorFrame(msg string) Frame { return Frame{Error: &msg} }
