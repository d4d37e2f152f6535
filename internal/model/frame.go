package model

import "time"

// FrameStatus is the status of a server to client stream frame.
type FrameStatus string

const (
	StatusStreaming FrameStatus = "streaming"
	StatusComplete  FrameStatus = "complete"
	StatusError     FrameStatus = "error"
)

// Valid reports whether s is one of the three legal frame statuses.
func (s FrameStatus) Valid() bool {
	switch s {
	case StatusStreaming, StatusComplete, StatusError:
		return true
	}
	return false
}

// StreamFrame is one server to client message on the chat socket. Streaming
// frames carry deltas: each Text is the next chunk, not the full reply.
type StreamFrame struct {
	ConversationID int64       `json:"conversation_id"`
	Text           string      `json:"text,omitempty"`
	Status         FrameStatus `json:"status"`
	Error          string      `json:"error,omitempty"`
}

// Terminal reports whether the frame ends the open assistant message.
func (f StreamFrame) Terminal() bool {
	return f.Status == StatusComplete || f.Status == StatusError
}

// ConnectionState is the state of a client transport connection.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateError      ConnectionState = "error"
)

// EventType classifies conversation events published to the event log.
type EventType string

const (
	EventTypeStreamError EventType = "stream_error"
	EventTypeCreated     EventType = "created"
	EventTypeDeleted     EventType = "deleted"
	EventTypeRenamed     EventType = "renamed"
)

// ConversationEvent is a lifecycle event for a conversation.
type ConversationEvent struct {
	ID             string            `json:"id"`
	ConversationID int64             `json:"conversation_id"`
	Type           EventType         `json:"type"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
