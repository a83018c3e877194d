package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

// Cache wraps a Storage instance with Redis-backed caching of project
// task lists. Every task mutation evicts the owning project's entry, so
// readers observe at worst a TTL-stale list after a missed eviction.
type Cache struct {
	*Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis
// client and TTL.
func NewCache(base *Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Storage: base, redis: client, ttl: ttl}
}

// TasksForProject serves from Redis when possible. Membership is always
// verified against the backing store; the cache only short-circuits the
// task list query itself.
func (c *Cache) TasksForProject(ctx context.Context, projectID, userID int64) ([]domain.Task, error) {
	member, err := c.Storage.IsMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	if tasks, ok := c.loadFromCache(ctx, projectID); ok {
		return tasks, nil
	}

	tasks, err := c.Storage.TasksForProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectID, tasks)
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
	t, err := c.Storage.InsertTask(ctx, projectID, userID, title, description, priority)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.ProjectID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error) {
	t, err := c.Storage.UpdateTask(ctx, taskID, userID, upd)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.ProjectID)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, taskID, userID int64) (domain.Task, error) {
	t, err := c.Storage.DeleteTask(ctx, taskID, userID)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.ProjectID)
	return t, nil
}

func (c *Cache) loadFromCache(ctx context.Context, projectID int64) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(projectID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(projectID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(projectID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, projectID int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(projectID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, projectID int64) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(projectID)).Result()
}

func tasksCacheKey(projectID int64) string {
	return "tasks:project:" + strconv.FormatInt(projectID, 10)
}
