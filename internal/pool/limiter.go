package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter is a process-wide worker slot pool shared by every destination.
type Limiter struct {
	sem  *semaphore.Weighted
	size int

	mu    sync.Mutex
	stats Stats
}

// Stats tracks limiter usage.
type Stats struct {
	Acquired int64
	Active   int64
	Peak     int64
}

// NewLimiter creates a limiter allowing size concurrent tasks. size <= 0 means unbounded.
func NewLimiter(size int) *Limiter {
	l := &Limiter{size: size}
	if size > 0 {
		l.sem = semaphore.NewWeighted(int64(size))
	}
	return l
}

// Size returns the configured bound, 0 when unbounded.
func (l *Limiter) Size() int {
	if l == nil {
		return 0
	}
	return l.size
}

// Acquire waits for a slot and returns the function releasing it.
// It fails only when ctx is done before a slot frees up.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		if err := ctx.Err(); err != nil {
			return func() {}, err
		}
		return func() {}, nil
	}

	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return func() {}, fmt.Errorf("waiting for worker slot: %w", err)
		}
	} else if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	l.mu.Lock()
	l.stats.Acquired++
	l.stats.Active++
	l.stats.Peak = max(l.stats.Peak, l.stats.Active)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.stats.Active--
			l.mu.Unlock()
			if l.sem != nil {
				l.sem.Release(1)
			}
		})
	}, nil
}

// Stats returns a copy of the usage statistics.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
