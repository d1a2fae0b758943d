package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	tasks   map[string]domain.Task
	fetches int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tasks: make(map[string]domain.Task)}
}

func (f *fakeBackend) SaveTask(_ context.Context, task domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeBackend) DeleteTask(_ context.Context, _, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeBackend) FetchTasks(_ context.Context, boardID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.BoardID == boardID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBackend) AppendActivity(_ context.Context, _ domain.Activity) error {
	return nil
}

func (f *fakeBackend) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newCacheUnderTest(t *testing.T) (*Cache, *fakeBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backend := newFakeBackend()
	return NewCache(backend, client, time.Minute), backend, mr
}

func TestCacheServesSnapshotFromRedis(t *testing.T) {
	cache, backend, _ := newCacheUnderTest(t)
	ctx := context.Background()

	if err := backend.SaveTask(ctx, domain.Task{ID: "t1", BoardID: "b1", Title: "cached"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := cache.FetchTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 || first[0].Title != "cached" {
		t.Fatalf("unexpected tasks %+v", first)
	}

	second, err := cache.FetchTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("unexpected tasks %+v", second)
	}
	if backend.fetchCount() != 1 {
		t.Fatalf("second fetch must come from cache, backend hit %d times", backend.fetchCount())
	}
}

func TestCacheEvictsOnWrite(t *testing.T) {
	cache, backend, _ := newCacheUnderTest(t)
	ctx := context.Background()

	if _, err := cache.FetchTasks(ctx, "b1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cache.SaveTask(ctx, domain.Task{ID: "t1", BoardID: "b1", Title: "new"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks, err := cache.FetchTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("stale snapshot served after write, got %+v", tasks)
	}
	if backend.fetchCount() != 2 {
		t.Fatalf("write must evict the snapshot, backend hit %d times", backend.fetchCount())
	}

	if err := cache.DeleteTask(ctx, "b1", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tasks, err = cache.FetchTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("stale snapshot served after delete, got %+v", tasks)
	}
}

func TestCacheRecoversFromCorruptEntry(t *testing.T) {
	cache, backend, mr := newCacheUnderTest(t)
	ctx := context.Background()

	if err := backend.SaveTask(ctx, domain.Task{ID: "t1", BoardID: "b1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mr.Set(snapshotKey("b1"), "{corrupt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks, err := cache.FetchTasks(ctx, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected fallback to the archive, got %+v", tasks)
	}
}
