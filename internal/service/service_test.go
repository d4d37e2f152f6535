package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/llm"
	"github.com/taho-ai/streamchat/internal/llm/mocks"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/internal/service"
	"github.com/taho-ai/streamchat/internal/store"
)

func setupServices(t *testing.T) (*service.ConversationService, *service.ChatService, *mocks.MockClient) {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	llmClient := mocks.NewMockClient(t)
	conversations := service.NewConversationService(st, nil, nil, nil)
	chat := service.NewChatService(conversations, llmClient, nil)
	return conversations, chat, llmClient
}

func collect(frames *[]model.StreamFrame) service.Emitter {
	return func(f model.StreamFrame) error {
		*frames = append(*frames, f)
		return nil
	}
}

func ptr(v int64) *int64 { return &v }

func TestChatService_Relay_NewConversation(t *testing.T) {
	ctx := context.Background()
	conversations, chat, llmClient := setupServices(t)

	llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"Hel", "lo!"}, nil).Once()

	var frames []model.StreamFrame
	require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "  Hi  "}, collect(&frames)))

	require.Len(t, frames, 4)
	id := frames[0].ConversationID
	assert.NotZero(t, id)
	assert.Equal(t, model.StreamFrame{ConversationID: id, Status: model.StatusStreaming}, frames[0])
	assert.Equal(t, "Hel", frames[1].Text)
	assert.Equal(t, "lo!", frames[2].Text)
	assert.Equal(t, model.StatusComplete, frames[3].Status)
	for _, f := range frames {
		assert.Equal(t, id, f.ConversationID)
	}

	conv, err := conversations.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New conversation", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hi", conv.Messages[0].Content)
	assert.Equal(t, "Hello!", conv.Messages[1].Content)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
}

func TestChatService_Relay_SendsHistory(t *testing.T) {
	ctx := context.Background()
	conversations, chat, llmClient := setupServices(t)

	conv, err := conversations.Create(ctx, "")
	require.NoError(t, err)
	_, err = conversations.AppendMessage(ctx, conv.ID, model.RoleUser, "first")
	require.NoError(t, err)
	_, err = conversations.AppendMessage(ctx, conv.ID, model.RoleAssistant, "reply")
	require.NoError(t, err)

	var sent *llm.CompletionRequest
	llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(*llm.CompletionRequest)
		}).
		Return([]string{"ok"}, nil).Once()

	var frames []model.StreamFrame
	require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "second", ConversationID: ptr(conv.ID)}, collect(&frames)))
	assert.Equal(t, model.StatusComplete, frames[len(frames)-1].Status)

	require.NotNil(t, sent)
	require.Len(t, sent.Messages, 3)
	assert.Equal(t, llm.ChatMessage{Role: "user", Content: "second"}, sent.Messages[2])

	history, err := conversations.History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "second", history[2].Content)
	assert.Equal(t, "ok", history[3].Content)
}

func TestChatService_Relay_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty message", func(t *testing.T) {
		_, chat, _ := setupServices(t)
		var frames []model.StreamFrame
		require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "   ", ConversationID: ptr(5)}, collect(&frames)))

		require.Len(t, frames, 1)
		assert.Equal(t, model.StreamFrame{ConversationID: 5, Status: model.StatusError, Error: "Message cannot be empty"}, frames[0])
	})

	t.Run("Unknown conversation", func(t *testing.T) {
		_, chat, _ := setupServices(t)
		var frames []model.StreamFrame
		require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "hi", ConversationID: ptr(99)}, collect(&frames)))

		require.Len(t, frames, 1)
		assert.Equal(t, model.StatusError, frames[0].Status)
		assert.Equal(t, "Conversation with ID 99 not found", frames[0].Error)
		assert.Equal(t, int64(99), frames[0].ConversationID)
	})

	t.Run("LLM failure is not persisted", func(t *testing.T) {
		conversations, chat, llmClient := setupServices(t)
		llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
			Return([]string{"par"}, errors.New("upstream timeout")).Once()

		var frames []model.StreamFrame
		require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "hi"}, collect(&frames)))

		require.Len(t, frames, 3)
		last := frames[2]
		assert.Equal(t, model.StatusError, last.Status)
		assert.Contains(t, last.Error, "upstream timeout")

		msgs, err := conversations.Get(ctx, last.ConversationID)
		require.NoError(t, err)
		require.Len(t, msgs.Messages, 1)
		assert.Equal(t, model.RoleUser, msgs.Messages[0].Role)
	})

	t.Run("Empty reply stores fallback", func(t *testing.T) {
		conversations, chat, llmClient := setupServices(t)
		llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
			Return([]string{}, nil).Once()

		var frames []model.StreamFrame
		require.NoError(t, chat.Relay(ctx, model.ChatRequest{Message: "hi"}, collect(&frames)))
		require.Len(t, frames, 2)
		assert.Equal(t, model.StatusComplete, frames[1].Status)

		conv, err := conversations.Get(ctx, frames[1].ConversationID)
		require.NoError(t, err)
		require.Len(t, conv.Messages, 2)
		assert.Equal(t, service.FallbackReply, conv.Messages[1].Content)
	})

	t.Run("Client gone", func(t *testing.T) {
		_, chat, llmClient := setupServices(t)
		llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
			Return([]string{"a", "b"}, nil).Maybe()

		gone := errors.New("broken pipe")
		calls := 0
		err := chat.Relay(ctx, model.ChatRequest{Message: "hi"}, func(model.StreamFrame) error {
			calls++
			if calls > 1 {
				return gone
			}
			return nil
		})
		assert.ErrorIs(t, err, gone)
	})
}

func TestChatService_Chat(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		_, chat, llmClient := setupServices(t)
		llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
			Return([]string{"Hello", " there"}, nil).Once()

		resp, err := chat.Chat(ctx, model.ChatRequest{Message: "Hi"})
		require.NoError(t, err)
		assert.NotZero(t, resp.ConversationID)
		assert.Equal(t, "Hi", resp.UserMessage.Content)
		assert.Equal(t, "Hello there", resp.AIResponse.Content)
	})

	t.Run("LLM error becomes reply", func(t *testing.T) {
		_, chat, llmClient := setupServices(t)
		llmClient.On("CompleteStream", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("rate limited")).Once()

		resp, err := chat.Chat(ctx, model.ChatRequest{Message: "Hi"})
		require.NoError(t, err)
		assert.Equal(t, "I apologize, but I encountered an error: rate limited", resp.AIResponse.Content)
	})

	t.Run("Validation and not found", func(t *testing.T) {
		_, chat, _ := setupServices(t)

		_, err := chat.Chat(ctx, model.ChatRequest{Message: " "})
		assert.ErrorIs(t, err, apperr.ErrValidation)

		_, err = chat.Chat(ctx, model.ChatRequest{Message: "Hi", ConversationID: ptr(404)})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestConversationService(t *testing.T) {
	ctx := context.Background()
	conversations, _, _ := setupServices(t)

	conv, err := conversations.Create(ctx, "  Trip plans ")
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", conv.Title)

	_, err = conversations.UpdateTitle(ctx, conv.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	renamed, err := conversations.UpdateTitle(ctx, conv.ID, "Holiday")
	require.NoError(t, err)
	assert.Equal(t, "Holiday", renamed.Title)

	list, err := conversations.List(ctx, 0, -5)
	require.NoError(t, err)
	require.Len(t, list, 1)

	stats, err := conversations.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalConversations)

	require.NoError(t, conversations.Delete(ctx, conv.ID))
	assert.ErrorIs(t, conversations.Delete(ctx, conv.ID), apperr.ErrNotFound)
}
