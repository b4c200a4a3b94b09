package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"stealthcompany.com/esistatus/internal/metrics"
	"stealthcompany.com/esistatus/internal/snapshot"
)

const backendName = "couchbase"

// SnapshotKey is the document ID of the single snapshot
var SnapshotKey = fmt.Sprintf("esistatus::snapshot::%d", snapshot.ID)

// SnapshotStore keeps the snapshot as one JSON document. A single Upsert
// replaces date and status data together.
type SnapshotStore struct {
	collection *gocb.Collection
}

// NewSnapshotStore creates a snapshot store on the bucket's default collection
func NewSnapshotStore(bucket *gocb.Bucket) *SnapshotStore {
	return &SnapshotStore{collection: bucket.DefaultCollection()}
}

// Load reads the snapshot document
func (s *SnapshotStore) Load(ctx context.Context) (snapshot.Snapshot, error) {
	startTime := time.Now()

	result, err := s.collection.Get(SnapshotKey, &gocb.GetOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		metrics.RecordStoreOperation(backendName, "load", "not_found", time.Since(startTime))
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreOperation(backendName, "load", "failed", time.Since(startTime))
		return snapshot.Snapshot{}, fmt.Errorf("failed to get document %s: %w", SnapshotKey, err)
	}

	var snap snapshot.Snapshot
	if err := result.Content(&snap); err != nil {
		metrics.RecordStoreOperation(backendName, "load", "failed", time.Since(startTime))
		return snapshot.Snapshot{}, fmt.Errorf("failed to parse document content: %w", err)
	}

	metrics.RecordStoreOperation(backendName, "load", "success", time.Since(startTime))
	return snap, nil
}

// Save upserts the snapshot document
func (s *SnapshotStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	if _, err := s.collection.Upsert(SnapshotKey, snap, &gocb.UpsertOptions{Context: ctx}); err != nil {
		metrics.RecordStoreOperation(backendName, "save", "failed", time.Since(startTime))
		return fmt.Errorf("failed to upsert document %s: %w", SnapshotKey, err)
	}

	metrics.RecordStoreOperation(backendName, "save", "success", time.Since(startTime))
	return nil
}

// CacheStore is a cache backend shared by every instance pointed at the
// bucket. Values are stored as raw JSON with a document expiry.
type CacheStore struct {
	collection *gocb.Collection
	transcoder gocb.Transcoder
}

// NewCacheStore creates a cache store on the bucket's default collection
func NewCacheStore(bucket *gocb.Bucket) *CacheStore {
	return &CacheStore{
		collection: bucket.DefaultCollection(),
		transcoder: gocb.NewRawJSONTranscoder(),
	}
}

// Get returns the stored value, or false when the key is absent or expired
func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	startTime := time.Now()

	result, err := c.collection.Get(key, &gocb.GetOptions{Context: ctx, Transcoder: c.transcoder})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		metrics.RecordStoreOperation(backendName, "cache_get", "not_found", time.Since(startTime))
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordStoreOperation(backendName, "cache_get", "failed", time.Since(startTime))
		return nil, false, fmt.Errorf("failed to get document %s: %w", key, err)
	}

	var value []byte
	if err := result.Content(&value); err != nil {
		metrics.RecordStoreOperation(backendName, "cache_get", "failed", time.Since(startTime))
		return nil, false, fmt.Errorf("failed to parse document content: %w", err)
	}

	metrics.RecordStoreOperation(backendName, "cache_get", "success", time.Since(startTime))
	return value, true, nil
}

// Set upserts value with a document expiry of ttl
func (c *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	startTime := time.Now()

	_, err := c.collection.Upsert(key, value, &gocb.UpsertOptions{
		Context:    ctx,
		Expiry:     ttl,
		Transcoder: c.transcoder,
	})
	if err != nil {
		metrics.RecordStoreOperation(backendName, "cache_set", "failed", time.Since(startTime))
		return fmt.Errorf("failed to upsert document %s: %w", key, err)
	}

	metrics.RecordStoreOperation(backendName, "cache_set", "success", time.Since(startTime))
	return nil
}
