package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyedMutex_DropsIdleKeys(t *testing.T) {
	k := NewKeyedMutex(0)
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if k.size() != 1 {
		t.Errorf("expected 1 tracked key, got %d", k.size())
	}
	unlock()
	unlock() // second call is a no-op
	if k.size() != 0 {
		t.Errorf("expected idle key to be dropped, got %d", k.size())
	}
}

func TestKeyedMutex_HonorsContext(t *testing.T) {
	k := NewKeyedMutex(0)
	unlock, _ := k.Lock(context.Background(), "a")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
	if k.size() != 1 {
		t.Errorf("waiter was not released, size=%d", k.size())
	}
}

func TestKeyedMutex_HandsOverToWaiter(t *testing.T) {
	k := NewKeyedMutex(time.Second)
	unlock, _ := k.Lock(context.Background(), "a")

	acquired := make(chan struct{})
	go func() {
		u, err := k.Lock(context.Background(), "a")
		if err != nil {
			t.Errorf("waiter Lock failed: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
