// Package locking provides short-lived named leases that keep periodic jobs,
// such as the payout sweep, from running concurrently across processes.
package locking

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotHeld is returned when releasing a lease that has expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases. TryLock never blocks waiting for a holder: it
// returns ok=false when the key is taken.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
	seq  uint64
}

type localEntry struct {
	id      uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.held[key]; ok && (entry.expires.IsZero() || now.Before(entry.expires)) {
		return nil, false, nil
	}
	l.seq++
	entry := localEntry{id: l.seq}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	l.held[key] = entry
	return &localLease{owner: l, key: key, id: entry.id}, true, nil
}

type localLease struct {
	owner *Local
	key   string
	id    uint64
}

func (l *localLease) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	entry, ok := l.owner.held[l.key]
	if !ok || entry.id != l.id {
		return ErrNotHeld
	}
	delete(l.owner.held, l.key)
	return nil
}
