package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/llm"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
	"github.com/taho-ai/streamchat/pkg/metrics"
	"github.com/taho-ai/streamchat/pkg/tracing"
)

const (
	// FallbackReply is stored when the LLM stream ends without any text.
	FallbackReply = "I'm sorry, I couldn't generate a response."

	fallbackChatReply = "I'm sorry, I couldn't generate a response at this time."
	newChatTitle      = "New conversation"
)

// Emitter writes one frame to the client. An error means the client is gone.
type Emitter func(frame model.StreamFrame) error

// ChatService relays user messages to the LLM and persists both sides.
type ChatService struct {
	conversations *ConversationService
	llmClient     llm.Client
	logger        *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(conversations *ConversationService, llmClient llm.Client, log *logger.Logger) *ChatService {
	return &ChatService{
		conversations: conversations,
		llmClient:     llmClient,
		logger:        logger.OrNop(log).Named("chat"),
	}
}

// Relay handles one socket request: it resolves the conversation, persists
// the user message, streams the reply as frames and persists the result.
// Every failure is reported to the client as an error frame; the returned
// error is non-nil only when emit itself fails.
func (s *ChatService) Relay(ctx context.Context, req model.ChatRequest, emit Emitter) error {
	var requested int64
	if req.ConversationID != nil {
		requested = *req.ConversationID
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return emit(errorFrame(requested, "Message cannot be empty"))
	}

	id, err := s.resolveConversation(ctx, requested)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return emit(errorFrame(requested, fmt.Sprintf("Conversation with ID %d not found", requested)))
		}
		s.logger.Error("failed to resolve conversation", zap.Int64("conversation_id", requested), zap.Error(err))
		return emit(errorFrame(requested, fmt.Sprintf("Error processing message: %v", err)))
	}

	log := s.logger.With(zap.Int64("conversation_id", id))

	if _, err := s.conversations.AppendMessage(ctx, id, model.RoleUser, message); err != nil {
		log.Error("failed to save user message", zap.Error(err))
		return emit(errorFrame(id, fmt.Sprintf("Error processing message: %v", err)))
	}

	history, err := s.conversations.History(ctx, id)
	if err != nil {
		log.Error("failed to load history", zap.Error(err))
		return emit(errorFrame(id, fmt.Sprintf("Error processing message: %v", err)))
	}

	if err := emit(model.StreamFrame{ConversationID: id, Status: model.StatusStreaming}); err != nil {
		return err
	}

	var emitErr error
	reply, err := s.stream(ctx, history, func(token string, _ int) error {
		if err := emit(model.StreamFrame{ConversationID: id, Text: token, Status: model.StatusStreaming}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		log.Info("client went away during stream", zap.Error(emitErr))
		return emitErr
	}
	if err != nil {
		log.Error("error streaming response", zap.Error(err))
		s.conversations.publishEvent(ctx, id, model.EventTypeStreamError, err.Error())
		return emit(errorFrame(id, fmt.Sprintf("Error streaming response: %v", err)))
	}

	if reply == "" {
		log.Warn("no AI response received, storing fallback message")
		reply = FallbackReply
	}
	if _, err := s.conversations.AppendMessage(ctx, id, model.RoleAssistant, reply); err != nil {
		log.Error("failed to save assistant message", zap.Error(err))
		return emit(errorFrame(id, fmt.Sprintf("Error processing message: %v", err)))
	}

	log.Info("stream completed", zap.Int("response_length", len(reply)))
	return emit(model.StreamFrame{ConversationID: id, Status: model.StatusComplete})
}

// Chat handles the non-streaming request/response flow. LLM failures are
// stored as the assistant reply rather than returned.
func (s *ChatService) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: Message cannot be empty", apperr.ErrValidation)
	}

	var requested int64
	if req.ConversationID != nil {
		requested = *req.ConversationID
	}

	id, err := s.resolveConversation(ctx, requested)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.conversations.AppendMessage(ctx, id, model.RoleUser, message)
	if err != nil {
		return nil, err
	}

	history, err := s.conversations.History(ctx, id)
	if err != nil {
		return nil, err
	}

	reply, err := s.stream(ctx, history, func(string, int) error { return nil })
	switch {
	case err != nil:
		s.logger.Error("error getting AI response", zap.Int64("conversation_id", id), zap.Error(err))
		reply = fmt.Sprintf("I apologize, but I encountered an error: %v", err)
	case strings.TrimSpace(reply) == "":
		reply = fallbackChatReply
	}

	aiMsg, err := s.conversations.AppendMessage(ctx, id, model.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	return &model.ChatResponse{
		ConversationID: id,
		UserMessage:    *userMsg,
		AIResponse:     *aiMsg,
	}, nil
}

func (s *ChatService) resolveConversation(ctx context.Context, id int64) (int64, error) {
	if id == 0 {
		conv, err := s.conversations.Create(ctx, newChatTitle)
		if err != nil {
			return 0, err
		}
		return conv.ID, nil
	}

	ok, err := s.conversations.Exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, id)
	}
	return id, nil
}

func (s *ChatService) stream(ctx context.Context, history []model.HistoryMessage, onToken llm.StreamCallback) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "llm.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", s.llmClient.Name()),
		attribute.Int("llm.history_length", len(history)),
	)

	messages := make([]llm.ChatMessage, len(history))
	for i, m := range history {
		messages[i] = llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	}

	start := time.Now()
	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{Messages: messages}, onToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordLLMStream(s.llmClient.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}

	metrics.RecordLLMStream(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

func errorFrame(id int64, msg string) model.StreamFrame {
	return model.StreamFrame{ConversationID: id, Status: model.StatusError, Error: msg}
}
