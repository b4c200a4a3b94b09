// Package snapshot holds the single persisted result of the most recent
// successful pipeline run and the stores it can live in.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"stealthcompany.com/esistatus/internal/enrich"
)

// ID is the fixed identifier of the only snapshot record
const ID = 1

// ErrNotFound is returned when no snapshot has been persisted yet
var ErrNotFound = errors.New("snapshot not found")

// Snapshot pairs a compatibility date with the routes enriched against it
type Snapshot struct {
	CompatibilityDate string                `json:"compatibility_date"`
	StatusData        []enrich.EnrichedRoute `json:"status_data"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// TotalEndpoints is the number of routes in the snapshot
func (s Snapshot) TotalEndpoints() int {
	return len(s.StatusData)
}

// Validate checks the fields that must always be set together
func (s Snapshot) Validate() error {
	if s.CompatibilityDate == "" {
		return errors.New("snapshot compatibility date is empty")
	}
	if len(s.CompatibilityDate) > 10 {
		return fmt.Errorf("snapshot compatibility date %q is longer than 10 characters", s.CompatibilityDate)
	}
	if s.StatusData == nil {
		return errors.New("snapshot status data is nil")
	}
	return nil
}

// Store persists the snapshot. Save replaces the date and the status data
// together in a single operation.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemoryStore keeps the snapshot in process, encoded, so callers never share
// slices with the stored copy
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	writes int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored snapshot
func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return Snapshot{}, ErrNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(m.data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot
func (m *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = data
	m.writes++
	return nil
}

// Writes returns how many times Save succeeded
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
