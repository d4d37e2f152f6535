package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r may be stored on a message.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents a persisted conversation message.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatRequest is the client to server chat payload, used by both the socket
// and the non-streaming POST /chat endpoint.
type ChatRequest struct {
	Message        string `json:"message" validate:"required"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

// ChatResponse is the non-streaming chat result.
type ChatResponse struct {
	ConversationID int64   `json:"conversation_id"`
	UserMessage    Message `json:"user_message"`
	AIResponse     Message `json:"ai_response"`
}

// HistoryMessage is a role/content pair handed to the LLM.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
