// Package lock provides per-note single-writer locks.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when a lock could not be acquired before the context ended.
var ErrNotHeld = errors.New("lock not acquired")

// Locker serializes writers per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Memory is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits on them.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				m.deref(key, kl)
			})
		}, nil
	case <-ctx.Done():
		m.deref(key, kl)
		return nil, errors.Join(ErrNotHeld, ctx.Err())
	}
}

func (m *Memory) deref(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

var _ Locker = (*Memory)(nil)
