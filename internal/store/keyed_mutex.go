package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// KeyedMutex serializes callers per key within one process. Idle keys are
// dropped so the map does not grow with the number of users.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	timeout time.Duration
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates a KeyedMutex. A positive timeout bounds each Lock call.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry), timeout: timeout}
}

// Lock blocks until key is free, the context ends or the timeout elapses.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%w: key %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size returns the number of tracked keys.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
