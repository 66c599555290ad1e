package models

import "time"

// Message represents an individual communication entry within a conversation. It contains the core
// components of a chat message including its unique identifier, the participant's role, the text
// content, and the time when the message was created. A Message is immutable once appended to a
// Conversation.
type Message struct {
	ID        string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"-"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a fully received assistant reply.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}
