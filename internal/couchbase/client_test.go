package couchbase

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/snapshot"
)

// Runs against a real cluster when ESISTATUS_TEST_COUCHBASE_URL is set. The
// bucket defaults to esistatus_test and must exist.
func newIntegrationClient(t *testing.T) *Client {
	t.Helper()

	url := os.Getenv("ESISTATUS_TEST_COUCHBASE_URL")
	if url == "" {
		t.Skip("ESISTATUS_TEST_COUCHBASE_URL not set")
	}
	bucket := os.Getenv("ESISTATUS_TEST_COUCHBASE_BUCKET")
	if bucket == "" {
		bucket = "esistatus_test"
	}

	client, err := NewClient(ConnectionConfig{
		URL:      url,
		Username: os.Getenv("ESISTATUS_TEST_COUCHBASE_USERNAME"),
		Password: os.Getenv("ESISTATUS_TEST_COUCHBASE_PASSWORD"),
		Bucket:   bucket,
	}, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Clear leftovers from an interrupted run
	collection := client.connManager.GetBucket().DefaultCollection()
	for _, key := range []string{RunLockKey, SnapshotKey} {
		_, err := collection.Remove(key, nil)
		if err != nil && !errors.Is(err, gocb.ErrDocumentNotFound) {
			require.NoError(t, err)
		}
	}

	return client
}

func TestRunLockerIntegration(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()

	first := client.Locker()
	second := NewRunLocker(client.connManager.GetBucket(), time.Minute)
	require.NotEqual(t, first.Owner(), second.Owner())

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = first.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "holder cannot acquire twice")

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lease is exclusive across lockers")

	require.NoError(t, first.Unlock(ctx))
	assert.Error(t, first.Unlock(ctx), "lease is no longer held")

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestSnapshotStoreIntegration(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()
	store := client.Snapshots()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	for _, date := range []string{"2025-09-30", "2025-11-06"} {
		require.NoError(t, store.Save(ctx, snapshot.Snapshot{
			CompatibilityDate: date,
			StatusData: []enrich.EnrichedRoute{
				{Path: "/alliances", Method: "GET", Status: "OK", Tags: []string{"alliances"}},
			},
			UpdatedAt: time.Date(2025, 11, 6, 12, 0, 0, 0, time.UTC),
		}))
	}

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-06", got.CompatibilityDate)
	require.Len(t, got.StatusData, 1)
	assert.Equal(t, []string{"alliances"}, got.StatusData[0].Tags)
	assert.True(t, got.UpdatedAt.Equal(time.Date(2025, 11, 6, 12, 0, 0, 0, time.UTC)))
}

func TestCacheStoreIntegration(t *testing.T) {
	client := newIntegrationClient(t)
	ctx := context.Background()
	store := client.Cache()

	key := "esi:meta:test:" + time.Now().Format("150405.000000000")

	_, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, key, []byte(`"2025-11-06"`), time.Minute))

	value, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `"2025-11-06"`, string(value))
}
