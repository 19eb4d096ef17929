package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Domenick1991/airreserve/internal/domain"
	"github.com/Domenick1991/airreserve/internal/metrics"
	"golang.org/x/sync/semaphore"
)

const localDriver = "local"

// LocalLocker serializes callers within one process. Each key maps to a
// weighted semaphore of size one; entries are dropped once nobody holds or
// waits on them.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	wait    time.Duration
}

type localEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocalLocker returns a locker that waits at most wait for a key. A zero
// wait means only the caller's context bounds the wait.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry), wait: wait}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	entry := l.retain(key)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	started := time.Now()
	if err := entry.sem.Acquire(waitCtx, 1); err != nil {
		l.release(key, entry)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.LockContended(localDriver)
		return nil, domain.Contention(key, errors.New("lock wait timed out"))
	}
	metrics.LockAcquired(localDriver, time.Since(started))

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) retain(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// held reports the number of keys currently tracked. Used by tests.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var _ Locker = (*LocalLocker)(nil)
