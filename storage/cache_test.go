package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *Storage) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := newTestStorage(t)
	return NewCache(base, client, time.Minute), mr, base
}

func TestCacheTasksMissThenHit(t *testing.T) {
	cache, mr, base := newTestCache(t)
	ctx := context.Background()
	owner := seedUser(t, base, "Alice", "alice@example.com")
	p := seedProject(t, base, owner.ID)
	if _, err := base.InsertTask(ctx, p.ID, owner.ID, "Write spec", "", ""); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	tasks, err := cache.TasksForProject(ctx, p.ID, owner.ID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if ttl := mr.TTL(tasksCacheKey(p.ID)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	// Second fetch is served from redis: mutate the underlying row directly
	// and observe the stale cached list.
	if _, err := base.db.Exec(`UPDATE tasks SET title = 'changed'`); err != nil {
		t.Fatalf("mutate row: %v", err)
	}
	tasks, err = cache.TasksForProject(ctx, p.ID, owner.ID)
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if tasks[0].Title != "Write spec" {
		t.Fatalf("expected cached title, got %q", tasks[0].Title)
	}
}

func TestCacheMembershipStillEnforcedOnHit(t *testing.T) {
	cache, _, base := newTestCache(t)
	ctx := context.Background()
	owner := seedUser(t, base, "Alice", "alice@example.com")
	stranger := seedUser(t, base, "Mallory", "mallory@example.com")
	p := seedProject(t, base, owner.ID)

	if _, err := cache.TasksForProject(ctx, p.ID, owner.ID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := cache.TasksForProject(ctx, p.ID, stranger.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden on cache hit for non-member, got %v", err)
	}
}

func TestCacheEvictedByMutations(t *testing.T) {
	cache, mr, base := newTestCache(t)
	ctx := context.Background()
	owner := seedUser(t, base, "Alice", "alice@example.com")
	p := seedProject(t, base, owner.ID)

	if _, err := cache.TasksForProject(ctx, p.ID, owner.ID); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists(tasksCacheKey(p.ID)) {
		t.Fatal("expected cache entry after fetch")
	}

	task, err := cache.InsertTask(ctx, p.ID, owner.ID, "Write spec", "", "")
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if mr.Exists(tasksCacheKey(p.ID)) {
		t.Fatal("insert should evict the cache entry")
	}

	if _, err := cache.TasksForProject(ctx, p.ID, owner.ID); err != nil {
		t.Fatalf("re-prime cache: %v", err)
	}
	status := domain.StatusDone
	if _, err := cache.UpdateTask(ctx, task.ID, owner.ID, domain.TaskUpdate{Status: &status}); err != nil {
		t.Fatalf("update task: %v", err)
	}
	if mr.Exists(tasksCacheKey(p.ID)) {
		t.Fatal("update should evict the cache entry")
	}

	if _, err := cache.TasksForProject(ctx, p.ID, owner.ID); err != nil {
		t.Fatalf("re-prime cache: %v", err)
	}
	if _, err := cache.DeleteTask(ctx, task.ID, owner.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if mr.Exists(tasksCacheKey(p.ID)) {
		t.Fatal("delete should evict the cache entry")
	}
}

func TestCacheFallsBackWithoutRedis(t *testing.T) {
	base := newTestStorage(t)
	cache := NewCache(base, nil, time.Minute)
	ctx := context.Background()
	owner := seedUser(t, base, "Alice", "alice@example.com")
	p := seedProject(t, base, owner.ID)

	tasks, err := cache.TasksForProject(ctx, p.ID, owner.ID)
	if err != nil {
		t.Fatalf("fetch without redis: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}
