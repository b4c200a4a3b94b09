// Package couchbase provides the Couchbase-backed snapshot store, cache
// backend and run lease.
package couchbase

import "time"

// Client bundles the stores that share one bucket connection
type Client struct {
	connManager *ConnectionManager
	snapshots   *SnapshotStore
	cache       *CacheStore
	locker      *RunLocker
}

// NewClient connects and builds the stores
func NewClient(cfg ConnectionConfig, leaseTTL time.Duration) (*Client, error) {
	connManager, err := NewConnectionManager(cfg)
	if err != nil {
		return nil, err
	}

	bucket := connManager.GetBucket()

	return &Client{
		connManager: connManager,
		snapshots:   NewSnapshotStore(bucket),
		cache:       NewCacheStore(bucket),
		locker:      NewRunLocker(bucket, leaseTTL),
	}, nil
}

// Close closes the Couchbase connection
func (c *Client) Close() error {
	return c.connManager.Close()
}

// Snapshots returns the snapshot store
func (c *Client) Snapshots() *SnapshotStore {
	return c.snapshots
}

// Cache returns the cache backend
func (c *Client) Cache() *CacheStore {
	return c.cache
}

// Locker returns the run lease
func (c *Client) Locker() *RunLocker {
	return c.locker
}
