// Package store persists conversations and messages through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/taho-ai/streamchat/internal/apperr"
	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/model"
	"github.com/taho-ai/streamchat/pkg/logger"
)

// Store provides conversation and message persistence.
type Store struct {
	db     *gorm.DB
	logger *logger.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.URL)
	case "sqlite", "":
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        sqliteDSN(cfg.URL),
		})
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", apperr.ErrValidation, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(db, log)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func sqliteDSN(url string) string {
	url = strings.TrimPrefix(url, "sqlite://")
	url = strings.TrimPrefix(url, "sqlite+aiosqlite:///")
	if url == "" {
		url = ":memory:"
	}
	if strings.Contains(url, "_pragma=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_pragma=foreign_keys(1)"
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: logger.OrNop(log).Named("store")}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&ConversationModel{}, &MessageModel{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateConversation inserts a conversation with the given title.
func (s *Store) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = model.DefaultConversationTitle
	}

	row := &ConversationModel{Title: title}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Debug("conversation created", zap.Int64("conversation_id", row.ID))
	return row.ToDomain(), nil
}

// GetConversation returns a conversation with its messages in creation order.
func (s *Store) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	var row ConversationModel
	err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc, id asc")
		}).
		First(&row, id).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	return row.ToDomain(), nil
}

// Exists reports whether a conversation with id exists.
func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ConversationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return count > 0, nil
}

// ListConversations returns summaries ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationSummary, error) {
	var rows []ConversationModel
	if err := s.db.WithContext(ctx).
		Order("updated_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]model.ConversationSummary, len(rows))
	for i, row := range rows {
		summaries[i] = model.ConversationSummary{
			ID:        row.ID,
			Title:     row.Title,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		}

		var count int64
		if err := s.db.WithContext(ctx).Model(&MessageModel{}).
			Where("conversation_id = ?", row.ID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		summaries[i].MessageCount = int(count)
		if count == 0 {
			continue
		}

		var last MessageModel
		if err := s.db.WithContext(ctx).
			Where("conversation_id = ?", row.ID).
			Order("created_at desc, id desc").
			Limit(1).
			Find(&last).Error; err != nil {
			return nil, fmt.Errorf("failed to load last message: %w", err)
		}
		msg := last.ToDomain()
		summaries[i].LastMessage = &msg
	}

	return summaries, nil
}

// ListConversationsWithMessages returns full conversations ordered by most recent activity.
func (s *Store) ListConversationsWithMessages(ctx context.Context, limit, offset int) ([]model.Conversation, error) {
	var rows []ConversationModel
	if err := s.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc, id asc")
		}).
		Order("updated_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]model.Conversation, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// UpdateConversationTitle renames a conversation.
func (s *Store) UpdateConversationTitle(ctx context.Context, id int64, title string) (*model.Conversation, error) {
	res := s.db.WithContext(ctx).Model(&ConversationModel{ID: id}).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update conversation title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, id)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res := tx.Delete(&ConversationModel{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, id)
		}
		return nil
	})
}

// AddMessage appends a message and bumps the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, conversationID int64, role model.Role, content string) (*model.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", apperr.ErrValidation, role)
	}

	row := &MessageModel{
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{ID: conversationID}).Update("updated_at", time.Now())
		if res.Error != nil {
			return fmt.Errorf("failed to touch conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, conversationID)
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to add message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg := row.ToDomain()
	return &msg, nil
}

// GetMessages returns a conversation's messages in creation order.
func (s *Store) GetMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	var rows []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]model.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].ToDomain()
	}
	return messages, nil
}

// Stats counts stored conversations and messages.
func (s *Store) Stats(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	if err := s.db.WithContext(ctx).Model(&ConversationModel{}).Count(&stats.TotalConversations).Error; err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).Count(&stats.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	if stats.TotalConversations > 0 {
		avg := float64(stats.TotalMessages) / float64(stats.TotalConversations)
		stats.AvgMessagesPerConversation = math.Round(avg*100) / 100
	}
	return &stats, nil
}

func notFound(err error, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, id)
	}
	return fmt.Errorf("failed to get conversation: %w", err)
}
