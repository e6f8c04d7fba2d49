// Package domain contains core domain types for the gymchat client.
package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message typed by the person chatting.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single entry of a conversation. Ordering of a message
// slice is chronological.
type ChatMessage struct {
	ID        string    `json:"id"`
	ClassName string    `json:"className,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsUser returns true if the message was authored by the user.
func (m ChatMessage) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if the message was authored by the assistant.
func (m ChatMessage) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// HasAssistantMessage reports whether any message in history came from the assistant.
func HasAssistantMessage(history []ChatMessage) bool {
	for _, m := range history {
		if m.IsAssistant() {
			return true
		}
	}
	return false
}

// FlatText renders messages as "role: content" lines.
func FlatText(messages []ChatMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
