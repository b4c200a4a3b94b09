package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthcompany.com/esistatus/internal/cache"
	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/esi"
	"stealthcompany.com/esistatus/internal/snapshot"
)

type mapStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	sets   int
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.sets++
	return nil
}

func (s *mapStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

type fakeFetcher struct {
	dates     string
	datesErr  error
	status    string
	statusErr error
	schema    string
	schemaErr error

	datesCalls  atomic.Int32
	statusCalls atomic.Int32
	schemaCalls atomic.Int32
}

func (f *fakeFetcher) CompatibilityDatesURL() string { return "https://esi.test/meta/compatibility-dates" }
func (f *fakeFetcher) StatusURL(date string) string {
	return "https://esi.test/meta/status?compatibility_date=" + date
}
func (f *fakeFetcher) OpenAPIURL(date string) string {
	return "https://esi.test/meta/openapi.json?compatibility_date=" + date
}

func (f *fakeFetcher) FetchCompatibilityDates(context.Context) (esi.CompatibilityDates, error) {
	f.datesCalls.Add(1)
	var doc esi.CompatibilityDates
	if f.datesErr != nil {
		return doc, f.datesErr
	}
	err := json.Unmarshal([]byte(f.dates), &doc)
	return doc, err
}

func (f *fakeFetcher) FetchStatus(context.Context, string) (esi.StatusDocument, error) {
	f.statusCalls.Add(1)
	var doc esi.StatusDocument
	if f.statusErr != nil {
		return doc, f.statusErr
	}
	err := json.Unmarshal([]byte(f.status), &doc)
	return doc, err
}

func (f *fakeFetcher) FetchOpenAPI(context.Context, string) (esi.SchemaDocument, error) {
	f.schemaCalls.Add(1)
	var doc esi.SchemaDocument
	if f.schemaErr != nil {
		return doc, f.schemaErr
	}
	err := json.Unmarshal([]byte(f.schema), &doc)
	return doc, err
}

type failingSnapshotStore struct {
	snapshot.MemoryStore
}

func (f *failingSnapshotStore) Save(context.Context, snapshot.Snapshot) error {
	return errors.New("disk full")
}

func scenarioFetcher() *fakeFetcher {
	return &fakeFetcher{
		dates:  `{"compatibility_dates":["2025-11-06","2025-09-30","2020-01-01"]}`,
		status: `{"routes":[{"path":"/alliances","method":"GET","status":"OK"}]}`,
		schema: `{"paths":{"/alliances":{"get":{"tags":["alliances"]}}}}`,
	}
}

type harness struct {
	orch    *Orchestrator
	fetcher *fakeFetcher
	backend *mapStore
	store   snapshot.Store
	memory  *snapshot.MemoryStore
	locker  *LocalLocker
}

func newHarness(t *testing.T, fetcher *fakeFetcher, cacheStatus bool) *harness {
	t.Helper()

	h := &harness{
		fetcher: fetcher,
		backend: newMapStore(),
		memory:  snapshot.NewMemoryStore(),
		locker:  NewLocalLocker(),
	}
	h.store = h.memory

	h.orch = h.build(t, cacheStatus)
	return h
}

func (h *harness) build(t *testing.T, cacheStatus bool) *Orchestrator {
	t.Helper()

	newCache := func(ns string) *cache.Cache {
		c, err := cache.New(ns, h.backend, cache.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		return c
	}

	caches := Caches{
		Dates:  newCache("compatibility_date"),
		Schema: newCache("openapi"),
	}
	if cacheStatus {
		caches.Status = newCache("status")
	}

	logger := zerolog.Nop()
	orch, err := New(Config{
		Fetcher:  h.fetcher,
		Caches:   caches,
		Store:    h.store,
		Locker:   h.locker,
		Enricher: enrich.New(enrich.Extended, enrich.WithLogger(logger)),
		Logger:   &logger,
	})
	require.NoError(t, err)
	return orch
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t, scenarioFetcher(), false)
	ctx := context.Background()

	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomePersisted, res.Outcome)
	assert.Equal(t, "2025-11-06", res.CompatibilityDate)
	assert.Equal(t, 1, res.Routes)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, Idle, h.orch.State())

	snap, err := h.memory.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-06", snap.CompatibilityDate)
	require.Len(t, snap.StatusData, 1)
	assert.Equal(t, []string{"alliances"}, snap.StatusData[0].Tags)
	assert.False(t, snap.UpdatedAt.IsZero())

	// Date and schema are served from cache, status is always refetched
	res, err = h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, res.Outcome)
	assert.Equal(t, int32(1), h.fetcher.datesCalls.Load())
	assert.Equal(t, int32(1), h.fetcher.schemaCalls.Load())
	assert.Equal(t, int32(2), h.fetcher.statusCalls.Load())
	assert.Equal(t, 2, h.memory.Writes())
	assert.Equal(t, 2, h.backend.Sets())
}

func TestRunCachesStatusWhenEnabled(t *testing.T) {
	h := newHarness(t, scenarioFetcher(), true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := h.orch.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomePersisted, res.Outcome)
	}

	assert.Equal(t, int32(1), h.fetcher.statusCalls.Load())
	assert.Equal(t, 3, h.backend.Sets())
}

func TestRunSkipsUntaggedResult(t *testing.T) {
	fetcher := scenarioFetcher()
	h := newHarness(t, fetcher, false)
	ctx := context.Background()

	_, err := h.orch.Run(ctx)
	require.NoError(t, err)
	before, err := h.memory.Load(ctx)
	require.NoError(t, err)

	fetcher.status = `{"routes":[{"path":"/gone/","method":"GET","status":"Down"}]}`
	res, err := h.orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, h.memory.Writes(), "skip must not call Save")

	after, err := h.memory.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunSkipsEmptySchema(t *testing.T) {
	fetcher := scenarioFetcher()
	fetcher.schema = `{"paths":{}}`
	h := newHarness(t, fetcher, false)

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	_, err = h.memory.Load(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestRunAborts(t *testing.T) {
	statusErr := &esi.StatusError{URL: "https://esi.test", StatusCode: 503}

	tests := []struct {
		name        string
		mutate      func(f *fakeFetcher)
		target      error
		failedState State
	}{
		{
			name:        "Compatibility dates unavailable",
			mutate:      func(f *fakeFetcher) { f.datesErr = statusErr },
			target:      esi.ErrUnexpectedStatus,
			failedState: FetchingDate,
		},
		{
			name:        "No valid compatibility date",
			mutate:      func(f *fakeFetcher) { f.dates = `{"compatibility_dates":["soon",1]}` },
			target:      esi.ErrNoCompatibilityDate,
			failedState: FetchingDate,
		},
		{
			name:        "Status unavailable",
			mutate:      func(f *fakeFetcher) { f.statusErr = statusErr },
			target:      esi.ErrUnexpectedStatus,
			failedState: FetchingDocuments,
		},
		{
			name:        "Schema malformed",
			mutate:      func(f *fakeFetcher) { f.schemaErr = esi.ErrMalformedJSON },
			target:      esi.ErrMalformedJSON,
			failedState: FetchingDocuments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := scenarioFetcher()
			tt.mutate(fetcher)
			h := newHarness(t, fetcher, false)

			res, err := h.orch.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, OutcomeAborted, res.Outcome)
			assert.Equal(t, tt.failedState, res.FailedState)
			assert.Equal(t, 0, h.memory.Writes())
			assert.Equal(t, Idle, h.orch.State())

			if tt.failedState == FetchingDate {
				assert.Equal(t, 0, h.backend.Sets(), "failed date resolution must not write the cache")
			}
		})
	}
}

func TestRunAbortsWhenSaveFails(t *testing.T) {
	h := newHarness(t, scenarioFetcher(), false)
	h.store = &failingSnapshotStore{}
	h.orch = h.build(t, false)

	res, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, Persisting, res.FailedState)
}

func TestRunLocked(t *testing.T) {
	h := newHarness(t, scenarioFetcher(), false)
	ctx := context.Background()

	ok, err := h.locker.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := h.orch.Run(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, OutcomeLocked, res.Outcome)
	assert.Equal(t, int32(0), h.fetcher.datesCalls.Load())

	require.NoError(t, h.locker.Unlock(ctx))

	res, err = h.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, res.Outcome)

	ok, err = h.locker.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "run releases the lock")
}

func TestRunContinuesWhenCacheUnavailable(t *testing.T) {
	h := newHarness(t, scenarioFetcher(), false)
	h.backend.getErr = errors.New("connection reset")

	res, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePersisted, res.Outcome)
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	h := newHarness(t, scenarioFetcher(), false)
	c, err := cache.New("x", h.backend)
	require.NoError(t, err)

	_, err = New(Config{Fetcher: h.fetcher, Caches: Caches{Dates: c, Schema: c}})
	assert.Error(t, err, "store is required")

	orch, err := New(Config{Fetcher: h.fetcher, Caches: Caches{Dates: c, Schema: c}, Store: h.memory})
	require.NoError(t, err)
	assert.Equal(t, Idle, orch.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "fetching_documents", FetchingDocuments.String())
	assert.Equal(t, "persisting", Persisting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
