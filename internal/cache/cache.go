// Package cache holds conversation history in Redis so each streamed reply
// does not reload the whole conversation from the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taho-ai/streamchat/internal/config"
	"github.com/taho-ai/streamchat/internal/model"
)

// ErrCacheMiss is returned when no history is cached for a conversation.
var ErrCacheMiss = errors.New("cache miss")

// HistoryCache stores the LLM history of a conversation.
type HistoryCache interface {
	Get(ctx context.Context, conversationID int64) ([]model.HistoryMessage, error)
	Set(ctx context.Context, conversationID int64, history []model.HistoryMessage) error
	Invalidate(ctx context.Context, conversationID int64) error
	Ping(ctx context.Context) error
}

// New returns a Redis cache, or a no-op cache when no address is configured.
func New(cfg config.CacheConfig) HistoryCache {
	if cfg.RedisAddr == "" {
		return Noop{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisCache(rdb, cfg.HistoryTTL)
}

// RedisCache is a HistoryCache backed by Redis strings.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func historyKey(conversationID int64) string {
	return fmt.Sprintf("history:%d", conversationID)
}

// Get returns the cached history or ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context, conversationID int64) ([]model.HistoryMessage, error) {
	data, err := r.client.Get(ctx, historyKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get history from cache: %w", err)
	}

	var history []model.HistoryMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

// Set stores history with the configured TTL.
func (r *RedisCache) Set(ctx context.Context, conversationID int64, history []model.HistoryMessage) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return r.client.Set(ctx, historyKey(conversationID), data, r.ttl).Err()
}

// Invalidate drops the cached history.
func (r *RedisCache) Invalidate(ctx context.Context, conversationID int64) error {
	return r.client.Del(ctx, historyKey(conversationID)).Err()
}

// Ping checks Redis connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Noop is a HistoryCache that never stores anything.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, int64) ([]model.HistoryMessage, error) { return nil, ErrCacheMiss }

// Set does nothing.
func (Noop) Set(context.Context, int64, []model.HistoryMessage) error { return nil }

// Invalidate does nothing.
func (Noop) Invalidate(context.Context, int64) error { return nil }

// Ping always succeeds.
func (Noop) Ping(context.Context) error { return nil }
