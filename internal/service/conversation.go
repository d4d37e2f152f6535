// Package service provides business logic for the chat server.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/cache"
	"github.com/taho-ai/streamchat/internal/model"
	natsclient "github.com/taho-ai/streamchat/internal/nats"
	"github.com/taho-ai/streamchat/pkg/logger"
	"github.com/taho-ai/streamchat/pkg/metrics"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Repository is the persistence contract the services depend on.
type Repository interface {
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error)
	ListConversationsWithMessages(ctx context.Context, limit, offset int) ([]model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id int64, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	AddMessage(ctx context.Context, conversationID int64, role model.Role, content string) (*model.Message, error)
	GetMessages(ctx context.Context, conversationID int64) ([]model.Message, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// ConversationService handles conversation operations.
type ConversationService struct {
	repo      Repository
	cache     cache.HistoryCache
	publisher natsclient.Publisher
	logger    *logger.Logger
}

// NewConversationService creates a new conversation service. A nil cache or
// publisher disables that concern.
func NewConversationService(repo Repository, hc cache.HistoryCache, pub natsclient.Publisher, log *logger.Logger) *ConversationService {
	if hc == nil {
		hc = cache.Noop{}
	}
	if pub == nil {
		pub = natsclient.Noop{}
	}
	return &ConversationService{
		repo:      repo,
		cache:     hc,
		publisher: pub,
		logger:    logger.OrNop(log).Named("conversations"),
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, title string) (*model.Conversation, error) {
	conv, err := s.repo.CreateConversation(ctx, strings.TrimSpace(title))
	if err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.Inc()
	s.publishEvent(ctx, conv.ID, model.EventTypeCreated, "")
	s.logger.Info("conversation created", zap.Int64("conversation_id", conv.ID))

	return conv, nil
}

// Get retrieves a conversation with its messages.
func (s *ConversationService) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}

// Exists reports whether the conversation exists.
func (s *ConversationService) Exists(ctx context.Context, id int64) (bool, error) {
	return s.repo.Exists(ctx, id)
}

// List returns conversation summaries, most recently active first.
func (s *ConversationService) List(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListConversations(ctx, limit, offset)
}

// ListWithMessages returns full conversations, most recently active first.
func (s *ConversationService) ListWithMessages(ctx context.Context, limit, offset int) ([]model.Conversation, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListConversationsWithMessages(ctx, limit, offset)
}

// UpdateTitle renames a conversation.
func (s *ConversationService) UpdateTitle(ctx context.Context, id int64, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrValidation)
	}

	conv, err := s.repo.UpdateConversationTitle(ctx, id, title)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, id, model.EventTypeRenamed, title)
	return conv, nil
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.publishEvent(ctx, id, model.EventTypeDeleted, "")
	s.logger.Info("conversation deleted", zap.Int64("conversation_id", id))
	return nil
}

// AppendMessage persists a message and keeps the cache and event log in step.
func (s *ConversationService) AppendMessage(ctx context.Context, id int64, role model.Role, content string) (*model.Message, error) {
	msg, err := s.repo.AddMessage(ctx, id, role, content)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()

	if _, err := s.publisher.PublishMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to publish message", zap.Int64("conversation_id", id), zap.Error(err))
	}

	return msg, nil
}

// History returns the role/content history handed to the LLM.
func (s *ConversationService) History(ctx context.Context, id int64) ([]model.HistoryMessage, error) {
	history, err := s.cache.Get(ctx, id)
	if err == nil {
		metrics.RecordCacheLookup(true)
		return history, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("history cache unavailable", zap.Int64("conversation_id", id), zap.Error(err))
	}
	metrics.RecordCacheLookup(false)

	messages, err := s.repo.GetMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	history = make([]model.HistoryMessage, len(messages))
	for i, m := range messages {
		history[i] = model.HistoryMessage{Role: m.Role, Content: m.Content}
	}

	if err := s.cache.Set(ctx, id, history); err != nil {
		s.logger.Warn("failed to cache history", zap.Int64("conversation_id", id), zap.Error(err))
	}
	return history, nil
}

// Stats returns conversation statistics.
func (s *ConversationService) Stats(ctx context.Context) (*model.Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *ConversationService) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate history cache", zap.Int64("conversation_id", id), zap.Error(err))
	}
}

func (s *ConversationService) publishEvent(ctx context.Context, id int64, eventType model.EventType, reason string) {
	_, err := s.publisher.PublishEvent(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: id,
		Type:           eventType,
		Reason:         reason,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to publish event",
			zap.Int64("conversation_id", id),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
