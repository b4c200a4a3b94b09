package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// LocalLocker serializes runs inside one process
type LocalLocker struct {
	mu   sync.Mutex
	held bool
}

// NewLocalLocker creates an unlocked LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryLock takes the lock if it is free
func (l *LocalLocker) TryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

// Unlock releases the lock
func (l *LocalLocker) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return errors.New("local run lock is not held")
	}
	l.held = false
	return nil
}
