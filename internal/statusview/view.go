// Package statusview is the read accessor the presentation layer uses: the
// persisted snapshot plus its per-state aggregation.
package statusview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/aggregate"
	"stealthcompany.com/esistatus/internal/health"
	"stealthcompany.com/esistatus/internal/metrics"
	"stealthcompany.com/esistatus/internal/snapshot"
)

// ErrNoData is returned before the first snapshot has been persisted
var ErrNoData = errors.New("no ESI status data yet")

// Status is the rendered view of the current snapshot
type Status struct {
	CompatibilityDate string           `json:"compatibility_date"`
	TotalEndpoints    int              `json:"total_endpoints"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ESIStatus         aggregate.Report `json:"esi_status"`
}

// View reads snapshots and aggregates them on demand
type View struct {
	store  snapshot.Store
	states health.StateSet
	logger zerolog.Logger
}

// New creates a View over store, bucketing by states
func New(store snapshot.Store, states health.StateSet) *View {
	if len(states) == 0 {
		states = health.FiveState
	}
	return &View{
		store:  store,
		states: states.Clone(),
		logger: log.Logger,
	}
}

// Current returns the aggregated view of the persisted snapshot
func (v *View) Current(ctx context.Context) (Status, error) {
	snap, err := v.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}

	report, err := aggregate.Aggregate(snap.StatusData, v.states)
	if err != nil {
		metrics.RecordStatusView("error")
		v.logger.Error().Err(err).Str("compatibility_date", snap.CompatibilityDate).Msg("Failed to aggregate ESI status")
		return Status{}, err
	}

	metrics.RecordStatusView("ok")
	return Status{
		CompatibilityDate: snap.CompatibilityDate,
		TotalEndpoints:    snap.TotalEndpoints(),
		UpdatedAt:         snap.UpdatedAt,
		ESIStatus:         report,
	}, nil
}

// Snapshot returns the raw persisted snapshot
func (v *View) Snapshot(ctx context.Context) (snapshot.Snapshot, error) {
	snap, err := v.store.Load(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		metrics.RecordStatusView("no_data")
		v.logger.Debug().Msg("ESI status data does not exist")
		return snapshot.Snapshot{}, ErrNoData
	}
	if err != nil {
		metrics.RecordStatusView("error")
		return snapshot.Snapshot{}, fmt.Errorf("failed to load ESI status snapshot: %w", err)
	}
	return snap, nil
}
