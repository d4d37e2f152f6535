// Package stream converts chat socket payloads to and from typed frames.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/taho-ai/streamchat/internal/model"
)

const (
	// MalformedPrefix starts the error text of frames that failed to parse.
	MalformedPrefix = "malformed frame: "

	// DefaultStreamError is used when the server reports an error without a message.
	DefaultStreamError = "stream failed without an error message"
)

// wireFrame mirrors model.StreamFrame with pointers so absent fields can be
// told apart from zero values.
type wireFrame struct {
	ConversationID *int64  `json:"conversation_id"`
	Text           *string `json:"text"`
	Status         *string `json:"status"`
	Error          *string `json:"error"`
}

// Decode turns one raw payload into exactly one frame. It never fails:
// anything it cannot understand becomes an error frame.
func Decode(raw []byte) model.StreamFrame {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.StreamFrame{Status: model.StatusError, Error: MalformedPrefix + err.Error()}
	}

	frame := model.StreamFrame{}
	if w.ConversationID != nil {
		frame.ConversationID = *w.ConversationID
	}

	if w.Status == nil {
		frame.Status = model.StatusError
		frame.Error = "frame is missing a status"
		return frame
	}

	switch status := model.FrameStatus(*w.Status); status {
	case model.StatusStreaming:
		frame.Status = status
		if w.Text != nil {
			frame.Text = *w.Text
		}
	case model.StatusComplete:
		frame.Status = status
	case model.StatusError:
		frame.Status = status
		frame.Error = DefaultStreamError
		if w.Error != nil && *w.Error != "" {
			frame.Error = *w.Error
		}
	default:
		frame.Status = model.StatusError
		frame.Error = fmt.Sprintf("unknown frame status %q", *w.Status)
	}
	return frame
}

// EncodeRequest builds the outbound chat payload. conversation_id is omitted
// when conversationID is 0.
func EncodeRequest(message string, conversationID int64) (string, error) {
	req := model.ChatRequest{Message: message}
	if conversationID != 0 {
		req.ConversationID = &conversationID
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	return string(b), nil
}
