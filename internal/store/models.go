package store

import (
	"time"

	"github.com/taho-ai/streamchat/internal/model"
)

// ConversationModel is the conversations table.
type ConversationModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement;column:id"`
	Title     string         `gorm:"size:255;not null;default:'New Conversation';column:title"`
	CreatedAt time.Time      `gorm:"autoCreateTime;not null;index;column:created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime;not null;index;column:updated_at"`
	Messages  []MessageModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the gorm default.
func (ConversationModel) TableName() string { return "conversations" }

// MessageModel is the messages table.
type MessageModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	ConversationID int64     `gorm:"index;not null;column:conversation_id"`
	Role           string    `gorm:"size:20;not null;column:role"`
	Content        string    `gorm:"type:text;not null;column:content"`
	CreatedAt      time.Time `gorm:"autoCreateTime;not null;index;column:created_at"`
}

// TableName overrides the gorm default.
func (MessageModel) TableName() string { return "messages" }

// ToDomain converts the row to the API model.
func (m *MessageModel) ToDomain() model.Message {
	return model.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           model.Role(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// ToDomain converts the row and any preloaded messages to the API model.
func (c *ConversationModel) ToDomain() *model.Conversation {
	messages := make([]model.Message, len(c.Messages))
	for i := range c.Messages {
		messages[i] = c.Messages[i].ToDomain()
	}
	return &model.Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  messages,
	}
}
