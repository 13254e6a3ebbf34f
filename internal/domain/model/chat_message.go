package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageFeedback is the only mutable part of a stored message.
type MessageFeedback struct {
	IsPositive bool      `json:"is_positive"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatMessage represents one message within a study session's chat history.
type ChatMessage struct {
	ID        string           `json:"message_id"`
	SessionID string           `json:"session_id"`
	Role      string           `json:"role"` // "user" | "assistant"
	Content   string           `json:"content"`
	Tokens    int              `json:"tokens,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Feedback  *MessageFeedback `json:"feedback,omitempty"`
}

// LatestAnswer returns the assistant message that closes the conversation, i.e.
// the last assistant message placed after the most recent user message.
// It returns nil when the newest user message has not been answered yet.
func LatestAnswer(history []ChatMessage) *ChatMessage {
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Role {
		case RoleAssistant:
			if history[i].Content == "" {
				continue
			}
			m := history[i]
			return &m
		case RoleUser:
			return nil
		}
	}
	return nil
}

// RecentMessages returns at most n trailing messages.
func RecentMessages(history []ChatMessage, n int) []ChatMessage {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
