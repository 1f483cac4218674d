package service

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker. Locks expire after their ttl so a
// holder that never unlocks cannot block a key forever.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	seq   uint64
	nowFn func() time.Time
}

type localLock struct {
	token   uint64
	expires time.Time
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:  make(map[string]localLock),
		nowFn: time.Now,
	}
}

// TryLock takes key if it is free or its previous holder expired
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}

	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// an expired lock may have been taken over; only release our own
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
	}
	return unlock, true, nil
}
