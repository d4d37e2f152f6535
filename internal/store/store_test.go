package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return New(db, nil), mock
}

func TestStore_ConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.NotZero(t, conv.ID)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
	assert.Empty(t, conv.Messages)

	_, err = s.AddMessage(ctx, conv.ID, model.RoleUser, "Hi")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, conv.ID, model.RoleAssistant, "Hello!")
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Hi", got.Messages[0].Content)
	assert.Equal(t, "Hello!", got.Messages[1].Content)
	assert.Equal(t, conv.ID, got.Messages[1].ConversationID)

	renamed, err := s.UpdateConversationTitle(ctx, conv.ID, "Greetings")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", renamed.Title)
	assert.Len(t, renamed.Messages, 2)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	msgs, err := s.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_ListConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateConversation(ctx, "first")
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, "second")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, first.ID, model.RoleUser, "one")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, first.ID, model.RoleAssistant, "two")
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 2, list[0].MessageCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "two", list[0].LastMessage.Content)

	assert.Equal(t, second.ID, list[1].ID)
	assert.Equal(t, 0, list[1].MessageCount)
	assert.Nil(t, list[1].LastMessage)

	page, err := s.ListConversations(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)

	full, err := s.ListConversationsWithMessages(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, full, 2)
	assert.Len(t, full[0].Messages, 2)
}

func TestStore_AddMessageErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, "x")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		id      int64
		role    model.Role
		wantErr error
	}{
		{name: "Invalid role", id: conv.ID, role: model.RoleSystem, wantErr: apperr.ErrValidation},
		{name: "Missing conversation", id: conv.ID + 100, role: model.RoleUser, wantErr: apperr.ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := s.AddMessage(ctx, tc.id, tc.role, "content")
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, msg)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpdateConversationTitle(ctx, 42, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = s.DeleteConversation(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ok, err := s.Exists(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalConversations)
	assert.Equal(t, 0.0, stats.AvgMessagesPerConversation)

	a, err := s.CreateConversation(ctx, "a")
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "b")
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "c")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = s.AddMessage(ctx, a.ID, model.RoleUser, "m")
		require.NoError(t, err)
	}

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalConversations)
	assert.Equal(t, int64(2), stats.TotalMessages)
	assert.Equal(t, 0.67, stats.AvgMessagesPerConversation)
}

func TestStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection lost")

	t.Run("GetConversation", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "conversations"`)).WillReturnError(boom)

		_, err := s.GetConversation(ctx, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, apperr.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetConversation not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "conversations"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "created_at", "updated_at"}))

		_, err := s.GetConversation(ctx, 1)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Stats", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "conversations"`)).WillReturnError(boom)

		_, err := s.Stats(ctx)
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetMessages", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "messages" WHERE conversation_id = $1`)).
			WithArgs(int64(7)).
			WillReturnError(boom)

		_, err := s.GetMessages(ctx, 7)
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)", sqliteDSN(""))
	assert.Equal(t, "./chat.db?_pragma=foreign_keys(1)", sqliteDSN("sqlite+aiosqlite:///./chat.db"))
	assert.Equal(t, "chat.db?cache=shared&_pragma=foreign_keys(1)", sqliteDSN("chat.db?cache=shared"))
}
