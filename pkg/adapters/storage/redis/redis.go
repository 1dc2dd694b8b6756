package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/kanban-live/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options holds the connection settings for NewClient
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a go-redis client from opts
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
}

// RecentCache implements RecentActivity as a capped Redis list.
// The newest view sits at the head of the list.
type RecentCache struct {
	client *redis.Client
	key    string
	limit  int
	logger *zap.Logger
}

// NewRecentCache creates a cache on key holding at most limit views
func NewRecentCache(client *redis.Client, key string, limit int, logger *zap.Logger) *RecentCache {
	if limit < 1 {
		limit = 1
	}
	return &RecentCache{
		client: client,
		key:    key,
		limit:  limit,
		logger: logger,
	}
}

// Push prepends view and trims the list (ports.RecentActivity interface)
func (c *RecentCache) Push(ctx context.Context, view domain.ActivityView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal activity view: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, c.key, data)
		pipe.LTrim(ctx, c.key, 0, int64(c.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push activity view: %w", err)
	}

	return nil
}

// List returns up to limit views, newest first (ports.RecentActivity interface)
func (c *RecentCache) List(ctx context.Context, limit int) ([]domain.ActivityView, error) {
	if limit < 1 || limit > c.limit {
		limit = c.limit
	}

	items, err := c.client.LRange(ctx, c.key, 0, int64(limit-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return []domain.ActivityView{}, nil
		}
		return nil, fmt.Errorf("failed to read recent activity: %w", err)
	}

	views := make([]domain.ActivityView, 0, len(items))
	for _, item := range items {
		var view domain.ActivityView
		if err := json.Unmarshal([]byte(item), &view); err != nil {
			// Corrupt items are skipped
			c.logger.Warn("skipping unreadable activity view",
				zap.String("key", c.key),
				zap.Error(err))
			continue
		}
		views = append(views, view)
	}

	return views, nil
}

// Clear removes the list
func (c *RecentCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to clear recent activity: %w", err)
	}
	return nil
}
