package models

import "time"

// Conversation is a chat thread (direct or group).
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant links a user to a conversation. Inactive participants
// (left or removed) keep their row but receive no rooms or fan-out.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Active         bool      `json:"active"`
	JoinedAt       time.Time `json:"joined_at"`
}
