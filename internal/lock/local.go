package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Local serialises callbacks per key inside a single process. It is used when
// no Redis instance is configured.
type Local struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

// NewLocal constructs an in-process locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]chan struct{})}
}

// WithLock executes fn while holding the key. ttl is accepted for parity with
// Locker and otherwise ignored.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	for {
		l.mu.Lock()
		if l.keys == nil {
			l.keys = make(map[string]chan struct{})
		}
		held, busy := l.keys[key]
		if !busy {
			done := make(chan struct{})
			l.keys[key] = done
			l.mu.Unlock()
			defer l.release(key, done)
			return fn(ctx)
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-held:
		}
	}
}

func (l *Local) release(key string, done chan struct{}) {
	l.mu.Lock()
	if l.keys[key] == done {
		delete(l.keys, key)
	}
	l.mu.Unlock()
	close(done)
}
