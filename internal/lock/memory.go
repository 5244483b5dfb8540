package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/richardliu001/ledger-service/internal/model"
)

// MemoryLocker serializes work per key inside one process.
type MemoryLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{timeout: timeout, slots: make(map[string]*slot)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = Canonical(keys)
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	held := make([]func(), 0, len(keys))
	for _, k := range keys {
		unlock, err := l.lockOne(ctx, k)
		if err != nil {
			releaseAll(held)()
			return nil, err
		}
		held = append(held, unlock)
	}
	return releaseAll(held), nil
}

func (l *MemoryLocker) lockOne(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.unref(key, s)
		}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("%w: lock %s: %v", model.ErrPersistenceConflict, key, ctx.Err())
	}
}

func (l *MemoryLocker) unref(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
