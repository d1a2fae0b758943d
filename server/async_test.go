package server

import (
	"context"
	"testing"

	"boardsync/domain"
)

func TestAsyncArchiverDrainsOnClose(t *testing.T) {
	base := &fakeArchive{}
	async := NewAsyncArchiver(base, 2, 16, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := async.SaveTask(ctx, domain.Task{ID: "t1", BoardID: "b1"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := async.DeleteTask(ctx, "b1", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := async.AppendActivity(ctx, domain.Activity{Action: domain.ActionTaskCreated}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	async.Close()

	base.mu.Lock()
	defer base.mu.Unlock()
	if len(base.tasks) != 5 {
		t.Fatalf("expected 5 saves, got %d", len(base.tasks))
	}
	if len(base.deletions) != 1 {
		t.Fatalf("expected 1 deletion, got %d", len(base.deletions))
	}
	if len(base.activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(base.activities))
	}
}

func TestAsyncArchiverDropsWhenBufferFull(t *testing.T) {
	blocked := make(chan struct{})
	base := &blockingArchive{release: blocked}
	async := NewAsyncArchiver(base, 1, 1, nil)

	ctx := context.Background()
	// First job occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		_ = async.SaveTask(ctx, domain.Task{ID: "t1"})
	}
	close(blocked)
	async.Close()

	if n := base.count(); n > 2 {
		t.Fatalf("expected overflow to be dropped, %d writes landed", n)
	}
}

type blockingArchive struct {
	fakeArchive
	release chan struct{}
}

func (b *blockingArchive) SaveTask(ctx context.Context, task domain.Task) error {
	<-b.release
	return b.fakeArchive.SaveTask(ctx, task)
}

func (b *blockingArchive) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}
