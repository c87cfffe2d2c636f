package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// keyLock is a one-slot semaphore with a reference count so entries can be
// pruned from the table when no goroutine holds or waits on them.
type keyLock struct {
	slot chan struct{}
	refs int
}

// KeyedLock serialises work per session id.
//
// Design:
//   - A top-level mutex guards the table only; it is never held while a
//     goroutine waits for a key.
//   - Each key owns a buffered channel of capacity one. Acquiring is a send,
//     which composes with ctx.Done() in a select, so waiting respects
//     cancellation without helper goroutines.
//   - The reference count removes idle entries, keeping memory bounded by the
//     number of sessions with in-flight writes.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewKeyedLock creates an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyLock)}
}

func (kl *KeyedLock) acquireRef(key string) *keyLock {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	k, ok := kl.locks[key]
	if !ok {
		k = &keyLock{slot: make(chan struct{}, 1)}
		kl.locks[key] = k
	}
	k.refs++
	return k
}

// releaseRef must be called with kl.mu held.
func (kl *KeyedLock) releaseRef(key string, k *keyLock) {
	k.refs--
	if k.refs == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires key, blocking until it is available or ctx is done.
func (kl *KeyedLock) Lock(ctx context.Context, key string) error {
	k := kl.acquireRef(key)
	select {
	case k.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		kl.mu.Lock()
		kl.releaseRef(key, k)
		kl.mu.Unlock()
		return fmt.Errorf("session: lock %q: %w", key, ctx.Err())
	}
}

// Unlock releases key. It is a no-op if key is not held.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	k, ok := kl.locks[key]
	if !ok {
		return
	}
	select {
	case <-k.slot:
		kl.releaseRef(key, k)
	default:
	}
}

// WithLock acquires key, calls fn and releases key. A timeout of 0 means no
// deadline beyond ctx's own.
func (kl *KeyedLock) WithLock(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := kl.Lock(ctx, key); err != nil {
		return err
	}
	defer kl.Unlock(key)
	return fn()
}
