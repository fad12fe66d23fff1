// Package locks provides per-romaneio mutual exclusion so a scheduled batch
// and an interactive verification never reconcile the same record at once.
package locks

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy indicates the key is held by another caller.
var ErrBusy = errors.New("locks: resource busy")

// Locker acquires exclusive, non-blocking ownership of a key.
type Locker interface {
	// Acquire returns ErrBusy when the key is already held.
	Acquire(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal constructs an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
