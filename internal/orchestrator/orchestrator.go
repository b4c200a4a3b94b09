// Package orchestrator runs the status pipeline: resolve the compatibility
// date, fetch the status and OpenAPI documents, enrich, decide, persist.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"stealthcompany.com/esistatus/internal/cache"
	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/esi"
	"stealthcompany.com/esistatus/internal/metrics"
	"stealthcompany.com/esistatus/internal/snapshot"
)

// ErrRunInProgress is returned when another run holds the run lock
var ErrRunInProgress = errors.New("pipeline run already in progress")

// State is a pipeline state machine state
type State int32

const (
	Idle State = iota
	FetchingDate
	FetchingDocuments
	Enriching
	Deciding
	Persisting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingDate:
		return "fetching_date"
	case FetchingDocuments:
		return "fetching_documents"
	case Enriching:
		return "enriching"
	case Deciding:
		return "deciding"
	case Persisting:
		return "persisting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is how a run ended
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeAborted   Outcome = "aborted"
	OutcomeLocked    Outcome = "locked"
)

// Result describes one run
type Result struct {
	RunID             string
	Outcome           Outcome
	CompatibilityDate string
	Routes            int
	// FailedState is the state an aborted run stopped in
	FailedState State
}

// Fetcher is the ESI document source
type Fetcher interface {
	CompatibilityDatesURL() string
	StatusURL(date string) string
	OpenAPIURL(date string) string
	FetchCompatibilityDates(ctx context.Context) (esi.CompatibilityDates, error)
	FetchStatus(ctx context.Context, date string) (esi.StatusDocument, error)
	FetchOpenAPI(ctx context.Context, date string) (esi.SchemaDocument, error)
}

// Locker serializes runs. TryLock reports false when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Caches are the cache handles used by a run. Status may be nil, in which
// case the status document is always fetched fresh.
type Caches struct {
	Dates  *cache.Cache
	Schema *cache.Cache
	Status *cache.Cache
}

// Config holds the orchestrator dependencies
type Config struct {
	Fetcher  Fetcher
	Caches   Caches
	Store    snapshot.Store
	Locker   Locker
	Enricher *enrich.Enricher
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Orchestrator runs the pipeline. Run may be called from several goroutines;
// the Locker lets only one proceed at a time.
type Orchestrator struct {
	fetcher  Fetcher
	caches   Caches
	store    snapshot.Store
	locker   Locker
	enricher *enrich.Enricher
	logger   zerolog.Logger
	now      func() time.Time

	state atomic.Int32
}

// New validates cfg and creates an Orchestrator
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case cfg.Caches.Dates == nil || cfg.Caches.Schema == nil:
		return nil, errors.New("orchestrator: date and schema caches are required")
	case cfg.Store == nil:
		return nil, errors.New("orchestrator: snapshot store is required")
	}

	o := &Orchestrator{
		fetcher:  cfg.Fetcher,
		caches:   cfg.Caches,
		store:    cfg.Store,
		locker:   cfg.Locker,
		enricher: cfg.Enricher,
		logger:   log.Logger,
		now:      cfg.Now,
	}
	if o.locker == nil {
		o.locker = NewLocalLocker()
	}
	if o.enricher == nil {
		o.enricher = enrich.New(enrich.Extended)
	}
	if cfg.Logger != nil {
		o.logger = *cfg.Logger
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o, nil
}

// State returns the current state machine state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State, logger zerolog.Logger) {
	o.state.Store(int32(s))
	logger.Debug().Str("state", s.String()).Msg("Pipeline state")
}

// Run performs one full pass. A degraded enrichment result is skipped
// without an error; fetch and persistence failures abort the run and are
// returned.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	startTime := o.now()
	res := Result{RunID: uuid.NewString()}
	logger := o.logger.With().Str("run_id", res.RunID).Logger()

	acquired, err := o.locker.TryLock(ctx)
	if err != nil {
		res.Outcome = OutcomeAborted
		metrics.RecordPipelineRun(string(res.Outcome), startTime)
		logger.Error().Err(err).Msg("Failed to acquire run lock")
		return res, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !acquired {
		res.Outcome = OutcomeLocked
		metrics.RecordPipelineRun(string(res.Outcome), startTime)
		logger.Warn().Msg("Another ESI status update is running; skipping")
		return res, ErrRunInProgress
	}
	defer func() {
		if err := o.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("Failed to release run lock")
		}
	}()
	defer o.setState(Idle, logger)

	logger.Debug().Msg("Starting ESI status update")

	o.setState(FetchingDate, logger)
	date, err := o.compatibilityDate(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Str("kind", esi.FailureKind(err)).Msg("Failed to retrieve latest compatibility date")
		return o.abort(res, startTime, FetchingDate, err)
	}
	res.CompatibilityDate = date
	logger = logger.With().Str("compatibility_date", date).Logger()

	o.setState(FetchingDocuments, logger)
	status, schema, err := o.fetchDocuments(ctx, date, logger)
	if err != nil {
		logger.Error().Err(err).Str("kind", esi.FailureKind(err)).Msg("Failed to retrieve ESI status or OpenAPI specs")
		return o.abort(res, startTime, FetchingDocuments, err)
	}

	o.setState(Enriching, logger)
	routes := o.enricher.Enrich(status, schema)
	res.Routes = len(routes)

	o.setState(Deciding, logger)
	if !enrich.WorthPersisting(routes) {
		res.Outcome = OutcomeSkipped
		metrics.RecordPipelineRun(string(res.Outcome), startTime)
		logger.Debug().Int("routes", len(routes)).Msg("Enriched status has no tagged routes; skipping snapshot update")
		return res, nil
	}

	o.setState(Persisting, logger)
	snap := snapshot.Snapshot{
		CompatibilityDate: date,
		StatusData:        routes,
		UpdatedAt:         o.now().UTC(),
	}
	if err := o.store.Save(ctx, snap); err != nil {
		logger.Error().Err(err).Msg("Failed to persist ESI status snapshot")
		return o.abort(res, startTime, Persisting, err)
	}

	res.Outcome = OutcomePersisted
	metrics.RecordPipelineRun(string(res.Outcome), startTime)
	metrics.RecordSnapshotRoutes(countByStatus(routes))

	logger.Info().
		Int("routes", len(routes)).
		Dur("duration", o.now().Sub(startTime)).
		Msg("ESI status snapshot updated")

	return res, nil
}

func (o *Orchestrator) abort(res Result, startTime time.Time, state State, err error) (Result, error) {
	res.Outcome = OutcomeAborted
	res.FailedState = state
	metrics.RecordPipelineRun(string(res.Outcome), startTime)
	return res, fmt.Errorf("%s: %w", state, err)
}

// compatibilityDate returns the cached date or fetches and caches the latest
func (o *Orchestrator) compatibilityDate(ctx context.Context, logger zerolog.Logger) (string, error) {
	url := o.fetcher.CompatibilityDatesURL()

	var date string
	hit, err := o.caches.Dates.Get(ctx, url, &date)
	if err := cacheFailure(err, logger, "compatibility date"); err != nil {
		return "", err
	}
	if hit && date != "" {
		logger.Debug().Str("compatibility_date", date).Msg("Using cached ESI compatibility date")
		return date, nil
	}

	dates, err := o.fetcher.FetchCompatibilityDates(ctx)
	if err != nil {
		return "", err
	}

	date, err = dates.Latest()
	if err != nil {
		return "", err
	}
	logger.Debug().Str("compatibility_date", date).Msg("Latest ESI compatibility date")

	if err := cacheFailure(o.caches.Dates.Set(ctx, url, date), logger, "compatibility date"); err != nil {
		return "", err
	}

	return date, nil
}

// fetchDocuments fetches status and schema concurrently. Either failing
// fails both.
func (o *Orchestrator) fetchDocuments(ctx context.Context, date string, logger zerolog.Logger) (esi.StatusDocument, esi.SchemaDocument, error) {
	var (
		status esi.StatusDocument
		schema esi.SchemaDocument
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		status, err = o.statusDocument(gctx, date, logger)
		return err
	})
	g.Go(func() error {
		var err error
		schema, err = o.schemaDocument(gctx, date, logger)
		return err
	})

	if err := g.Wait(); err != nil {
		return esi.StatusDocument{}, esi.SchemaDocument{}, err
	}
	return status, schema, nil
}

func (o *Orchestrator) statusDocument(ctx context.Context, date string, logger zerolog.Logger) (esi.StatusDocument, error) {
	url := o.fetcher.StatusURL(date)

	if o.caches.Status != nil {
		var cached esi.StatusDocument
		hit, err := o.caches.Status.Get(ctx, url, &cached)
		if err := cacheFailure(err, logger, "status"); err != nil {
			return esi.StatusDocument{}, err
		}
		if hit {
			logger.Debug().Msg("Using cached ESI status")
			return cached, nil
		}
	}

	doc, err := o.fetcher.FetchStatus(ctx, date)
	if err != nil {
		return esi.StatusDocument{}, fmt.Errorf("status: %w", err)
	}
	logger.Debug().Int("routes", len(doc.Routes)).Msg("ESI status fetched")

	if o.caches.Status != nil {
		if err := cacheFailure(o.caches.Status.Set(ctx, url, doc), logger, "status"); err != nil {
			return esi.StatusDocument{}, err
		}
	}

	return doc, nil
}

func (o *Orchestrator) schemaDocument(ctx context.Context, date string, logger zerolog.Logger) (esi.SchemaDocument, error) {
	url := o.fetcher.OpenAPIURL(date)

	var cached esi.SchemaDocument
	hit, err := o.caches.Schema.Get(ctx, url, &cached)
	if err := cacheFailure(err, logger, "openapi"); err != nil {
		return esi.SchemaDocument{}, err
	}
	if hit {
		logger.Debug().Msg("Using cached ESI OpenAPI specs")
		return cached, nil
	}

	doc, err := o.fetcher.FetchOpenAPI(ctx, date)
	if err != nil {
		return esi.SchemaDocument{}, fmt.Errorf("openapi: %w", err)
	}
	logger.Debug().Int("paths", len(doc.Paths)).Msg("ESI OpenAPI specs fetched")

	if err := cacheFailure(o.caches.Schema.Set(ctx, url, doc), logger, "openapi"); err != nil {
		return esi.SchemaDocument{}, err
	}

	return doc, nil
}

// cacheFailure passes through cache misuse and logs backend failures, which
// only cost a refetch
func cacheFailure(err error, logger zerolog.Logger, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrInvalidKey) || errors.Is(err, cache.ErrInvalidNamespace) {
		return err
	}
	logger.Warn().Err(err).Str("document", what).Msg("Cache unavailable; continuing without it")
	return nil
}

func countByStatus(routes []enrich.EnrichedRoute) map[string]int {
	counts := make(map[string]int)
	for _, r := range routes {
		counts[r.Status]++
	}
	return counts
}
