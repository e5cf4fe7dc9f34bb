// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync"
)

// KeyLock provides one mutual exclusion lock per key.
//
// Locks are created on demand and dropped when nobody holds or waits for
// them, so unrelated keys never contend.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyLock creates a new KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyLockEntry)}
}

// Lock locks key and returns the function that unlocks it. It fails only
// when ctx is canceled while waiting.
func (kl *KeyLock) Lock(ctx context.Context, key string) (unlock func(), err error) {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		entry = &keyLockEntry{sem: make(chan struct{}, 1)}
		kl.locks[key] = entry
	}
	entry.refs++
	kl.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		kl.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			kl.release(key, entry)
		})
	}, nil
}

func (kl *KeyLock) release(key string, entry *keyLockEntry) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(kl.locks, key)
	}
}

// Len returns the number of keys that are currently locked or waited for.
func (kl *KeyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
