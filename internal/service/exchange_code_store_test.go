package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInMemoryExchangeCodeStoreSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryExchangeCodeStore()

	if err := store.Save(ctx, "code-1", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Consume(ctx, "code-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected payload %q", got)
	}
	if _, err := store.Consume(ctx, "code-1"); !errors.Is(err, ErrExchangeCodeInvalid) {
		t.Fatalf("expected second consume to fail, got %v", err)
	}
	if _, err := store.Consume(ctx, "unknown"); !errors.Is(err, ErrExchangeCodeInvalid) {
		t.Fatalf("expected unknown code to fail, got %v", err)
	}
}

func TestInMemoryExchangeCodeStoreExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryExchangeCodeStore().WithClock(func() time.Time { return now })

	_ = store.Save(ctx, "short", []byte("a"), time.Second)
	_ = store.Save(ctx, "long", []byte("b"), time.Hour)

	now = now.Add(2 * time.Second)
	if _, err := store.Consume(ctx, "short"); !errors.Is(err, ErrExchangeCodeInvalid) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}

	_ = store.Save(ctx, "short2", []byte("c"), time.Second)
	now = now.Add(2 * time.Second)
	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || store.Len() != 1 {
		t.Fatalf("expected one expired entry removed and one kept, removed=%d len=%d", removed, store.Len())
	}
}

func TestInMemoryExchangeCodeStoreConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryExchangeCodeStore()
	_ = store.Save(ctx, "race", []byte("x"), time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consumer to win, got %d", wins.Load())
	}
}

func TestRedisExchangeCodeStoreConsumeAndExpiry(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	store := NewRedisExchangeCodeStore(client, "exchange_test")

	if err := store.Save(ctx, "code-1", []byte("payload"), 2*time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Consume(ctx, "code-1")
	if err != nil || string(got) != "payload" {
		t.Fatalf("consume: %q %v", got, err)
	}
	if _, err := store.Consume(ctx, "code-1"); !errors.Is(err, ErrExchangeCodeInvalid) {
		t.Fatalf("expected single use, got %v", err)
	}

	if err := store.Save(ctx, "code-2", []byte("payload"), 2*time.Second); err != nil {
		t.Fatalf("save: %v", err)
	}
	server.FastForward(3 * time.Second)
	if _, err := store.Consume(ctx, "code-2"); !errors.Is(err, ErrExchangeCodeInvalid) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, "test", SweeperFunc(func(context.Context) (int, error) {
			if calls.Add(1) >= 2 {
				cancel()
			}
			return 1, nil
		}), time.Millisecond, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	if calls.Load() < 2 {
		t.Fatalf("expected at least two sweeps, got %d", calls.Load())
	}
}
