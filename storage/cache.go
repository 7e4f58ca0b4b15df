package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/dinakaran-p/vccrm/domain"
)

const listGenerationKey = "compliance-tasks:generation"

// Cache wraps a TaskStore with Redis-backed caching of list queries. Every
// write bumps a generation counter, which orphans previously cached lists.
// Single task reads always go to the backing store so that the engine sees
// current versions.
type Cache struct {
	base  domain.TaskStore
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.TaskStore, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.ComplianceTask, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	created, err := c.base.CreateTask(ctx, t)
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	c.invalidate(ctx)
	return created, nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.ComplianceTask) (domain.ComplianceTask, error) {
	saved, err := c.base.UpdateTask(ctx, t)
	if err != nil {
		return domain.ComplianceTask{}, err
	}
	c.invalidate(ctx)
	return saved, nil
}

func (c *Cache) SaveCompletion(ctx context.Context, done domain.ComplianceTask, successor *domain.ComplianceTask) (domain.ComplianceTask, *domain.ComplianceTask, error) {
	saved, next, err := c.base.SaveCompletion(ctx, done, successor)
	if err != nil {
		return domain.ComplianceTask{}, nil, err
	}
	c.invalidate(ctx)
	return saved, next, nil
}

func (c *Cache) ListTasks(ctx context.Context, f domain.TaskFilter) ([]domain.ComplianceTask, error) {
	key, ok := c.listKey(ctx, f)
	if ok {
		if tasks, hit := c.loadTasks(ctx, key); hit {
			return tasks, nil
		}
	}
	tasks, err := c.base.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if ok {
		c.storeTasks(ctx, key, tasks)
	}
	return tasks, nil
}

func (c *Cache) listKey(ctx context.Context, f domain.TaskFilter) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, listGenerationKey).Result()
	if err == redis.Nil {
		gen = "0"
	} else if err != nil {
		return "", false
	}
	return "compliance-tasks:" + gen + ":" + string(f.State) + "|" + string(f.Category) + "|" + f.AssigneeID, true
}

func (c *Cache) loadTasks(ctx context.Context, key string) ([]domain.ComplianceTask, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var cached []cachedTask
	if err := sonic.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	tasks := make([]domain.ComplianceTask, len(cached))
	for i, ct := range cached {
		tasks[i] = ct.ComplianceTask
		tasks[i].Version = ct.Version
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, key string, tasks []domain.ComplianceTask) {
	cached := make([]cachedTask, len(tasks))
	for i, t := range tasks {
		cached[i] = cachedTask{ComplianceTask: t, Version: t.Version}
	}
	data, err := sonic.Marshal(cached)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) invalidate(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, listGenerationKey).Err()
}

// cachedTask keeps the version token, which the public JSON form hides.
type cachedTask struct {
	domain.ComplianceTask
	Version string `json:"version"`
}
