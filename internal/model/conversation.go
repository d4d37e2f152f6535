// Package model defines data structures shared by the chat server and client.
package model

import (
	"time"
)

// DefaultConversationTitle is the title given to conversations created without one.
const DefaultConversationTitle = "New Conversation"

// Conversation represents a conversation thread with its messages.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// ConversationSummary is a conversation list item.
type ConversationSummary struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	LastMessage  *Message  `json:"last_message,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title" validate:"omitempty,max=255"`
}

// UpdateTitleRequest is the request to rename a conversation.
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

// Stats summarizes stored conversations and messages.
type Stats struct {
	TotalConversations         int64   `json:"total_conversations"`
	TotalMessages              int64   `json:"total_messages"`
	AvgMessagesPerConversation float64 `json:"avg_messages_per_conversation"`
}
