package kvstore

import (
	"context"
	"sort"
	"sync"
)

// lockTable hands out one lock per key. Entries are reference counted and
// dropped when unused, so the table only holds keys that are being worked on.
// A key lock is a one-slot channel so waiting for it can be abandoned.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// lock acquires the locks of keys in ascending order, whatever order they
// were given in, and returns the function releasing them. Two callers
// locking the same pair in opposite roles therefore cannot deadlock. If ctx
// is done before every lock is held, the ones already taken are released and
// ctx.Err() is returned.
func (t *lockTable) lock(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	held := make([]*keyLock, 0, len(sorted))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			t.release(sorted[i])
		}
	}

	for _, k := range sorted {
		l := t.acquire(k)
		select {
		case l.ch <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			t.release(k)
			unlock()
			return nil, ctx.Err()
		}
	}
	return unlock, nil
}

func (t *lockTable) acquire(key string) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
