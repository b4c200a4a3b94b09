package couchbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunLockKey is the document ID of the pipeline run lease
const RunLockKey = "esistatus::run_lock"

// DefaultLeaseTTL bounds how long a crashed holder can block other runs
const DefaultLeaseTTL = 5 * time.Minute

type lockDocument struct {
	Owner     string    `json:"owner"`
	LockedAt  time.Time `json:"lockedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RunLocker is a cluster-wide try-lock backed by a lease document. Insert
// fails when the document exists, so only one holder can create it; the
// document expiry frees the lease if the holder never releases it.
type RunLocker struct {
	collection *gocb.Collection
	owner      string
	ttl        time.Duration

	mu  sync.Mutex
	cas gocb.Cas
}

// NewRunLocker creates a locker on the bucket's default collection
func NewRunLocker(bucket *gocb.Bucket, ttl time.Duration) *RunLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RunLocker{
		collection: bucket.DefaultCollection(),
		owner:      uuid.NewString(),
		ttl:        ttl,
	}
}

// Owner returns the token written into lease documents held by this locker
func (l *RunLocker) Owner() string {
	return l.owner
}

// TryLock acquires the lease. It returns false without error when another
// holder has it.
func (l *RunLocker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cas != 0 {
		return false, nil
	}

	now := time.Now().UTC()
	doc := lockDocument{
		Owner:     l.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}

	result, err := l.collection.Insert(RunLockKey, doc, &gocb.InsertOptions{
		Context: ctx,
		Expiry:  l.ttl,
	})
	if errors.Is(err, gocb.ErrDocumentExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock document: %w", err)
	}

	l.cas = result.Cas()
	log.Debug().Str("owner", l.owner).Dur("ttl", l.ttl).Msg("Run lease acquired")
	return true, nil
}

// Unlock releases a lease held by this locker. A lease that already expired
// or was taken over is left alone.
func (l *RunLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cas == 0 {
		return fmt.Errorf("run lease is not held")
	}
	cas := l.cas
	l.cas = 0

	_, err := l.collection.Remove(RunLockKey, &gocb.RemoveOptions{
		Context: ctx,
		Cas:     cas,
	})
	switch {
	case err == nil:
		log.Debug().Str("owner", l.owner).Msg("Run lease released")
		return nil
	case errors.Is(err, gocb.ErrDocumentNotFound), errors.Is(err, gocb.ErrCasMismatch):
		log.Warn().Str("owner", l.owner).Msg("Run lease expired before release")
		return nil
	default:
		return fmt.Errorf("failed to remove lock document: %w", err)
	}
}
