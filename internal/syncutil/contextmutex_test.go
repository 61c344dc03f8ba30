package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestContextShardedMutexLockUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "rpt_0a1b2c")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	unlock()
}

func TestContextShardedMutexMutualExclusion(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	// Deliberately unsynchronized counter: the lock is the only thing
	// keeping increments from interleaving, so the race detector flags any
	// exclusion failure.
	var counter int
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(ctx, "rpt_0a1b2c")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("expected %d increments, got %d", n, counter)
	}
}

func TestContextShardedMutexWaiterGivesUp(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "rpt_held")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.LockContext(waitCtx, "rpt_held"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded while waiting, got %v", err)
	}
}

func TestContextShardedMutexDistinctKeys(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	unlock1, err := m.LockContext(ctx, "rpt_first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Different keys usually land on different shards; when they collide
	// the second acquire blocks and the timeout fires, which is not a bug.
	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlock2, err := m.LockContext(timeoutCtx, "rpt_second")
	if err != nil {
		t.Skip("keys hashed to the same shard")
	}

	unlock2()
	unlock1()
}

func TestContextShardedMutexUnlockWakesWaiter(t *testing.T) {
	m := NewContextShardedMutex()
	ctx := context.Background()

	unlock, err := m.LockContext(ctx, "rpt_relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		u, err := m.LockContext(ctx, "rpt_relay")
		if err != nil {
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired lock before it was released")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter did not acquire lock after release")
	}
}
