package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	SaveTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, boardID, taskID string) error
	FetchTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	AppendActivity(ctx context.Context, activity domain.Activity) error
}

// Cache wraps an Archive with Redis-backed caching for board snapshot
// reads. Writes evict the board's cached snapshot.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base archive is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// SaveTask writes through to the archive and evicts the board snapshot.
func (c *Cache) SaveTask(ctx context.Context, task domain.Task) error {
	if err := c.base.SaveTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.BoardID)
	return nil
}

// DeleteTask writes through to the archive and evicts the board snapshot.
func (c *Cache) DeleteTask(ctx context.Context, boardID, taskID string) error {
	if err := c.base.DeleteTask(ctx, boardID, taskID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

// FetchTasks serves the board snapshot from Redis when present, falling
// back to the archive and repopulating the cache.
func (c *Cache) FetchTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	if tasks, ok := c.loadFromCache(ctx, boardID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardID, tasks)
	return tasks, nil
}

// AppendActivity passes through; the activity feed is append-only and not
// cached.
func (c *Cache) AppendActivity(ctx context.Context, activity domain.Activity) error {
	return c.base.AppendActivity(ctx, activity)
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the archive without failing.
			_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, boardID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotKey(boardID)).Err()
}

func snapshotKey(boardID string) string {
	return "board-tasks:" + boardID
}
