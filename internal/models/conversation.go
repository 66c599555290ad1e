package models

import (
	"fmt"
	"slices"
	"sync"
)

// Conversation is an ordered, append-only sequence of messages held in memory for the lifetime of
// the process. It is safe for concurrent use; readers always get a copy of the messages.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds the given messages at the end of the conversation as a single step: either all of
// them are appended, or none when one of them has an unknown role.
func (c *Conversation) Append(msgs ...Message) error {
	for _, msg := range msgs {
		if !msg.Role.Valid() {
			return fmt.Errorf("invalid message role %q", msg.Role)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msgs...)
	return nil
}

// Messages returns a copy of the messages in the order they were appended.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.messages)
}

// Len returns the number of messages in the conversation.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.messages)
}
