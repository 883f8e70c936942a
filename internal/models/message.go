package models

import "time"

// Message is a single entry of a conversation. Messages are ordered and append-only; the only
// mutation allowed is appending text to the last assistant message while its reply is streaming.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the end user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the translation assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem represents an error or notice produced locally, never sent to the assistant.
	RoleSystem Role = "system"
)
