// Package app builds the service components from a resolved Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"stealthcompany.com/esistatus/internal/api"
	"stealthcompany.com/esistatus/internal/cache"
	"stealthcompany.com/esistatus/internal/config"
	"stealthcompany.com/esistatus/internal/couchbase"
	"stealthcompany.com/esistatus/internal/enrich"
	"stealthcompany.com/esistatus/internal/esi"
	"stealthcompany.com/esistatus/internal/orchestrator"
	"stealthcompany.com/esistatus/internal/snapshot"
	"stealthcompany.com/esistatus/internal/statusview"
)

// Cache namespaces
const (
	NamespaceCompatibilityDate = "compatibility_date"
	NamespaceOpenAPI           = "openapi"
	NamespaceStatus            = "status"
)

// App holds the wired components. Orchestrator is nil for read-only apps.
type App struct {
	Config       config.Config
	View         *statusview.View
	Orchestrator *orchestrator.Orchestrator

	logger  zerolog.Logger
	closers []func() error
}

// Option configures how New wires the app
type Option func(*options)

type options struct {
	readOnly bool
}

// ReadOnly skips the pipeline components. The API process uses it so it
// never opens the cache backend.
func ReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// New connects the configured backends and wires the components. Close
// releases everything New opened, also when New fails half way.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, logger: logger}

	var cb *couchbase.Client
	if cfg.UsesCouchbase() {
		var err error
		cb, err = couchbase.NewClient(couchbase.ConnectionConfig{
			URL:      cfg.CouchbaseURL,
			Username: cfg.CouchbaseUsername,
			Password: cfg.CouchbasePassword,
			Bucket:   cfg.CouchbaseBucket,
		}, cfg.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		a.closers = append(a.closers, cb.Close)
	}

	store, err := a.snapshotStore(ctx, cb)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.View = statusview.New(store, cfg.StateSet())

	if o.readOnly {
		return a, nil
	}

	if err := a.buildPipeline(cb, store); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) snapshotStore(ctx context.Context, cb *couchbase.Client) (snapshot.Store, error) {
	switch a.Config.SnapshotBackend {
	case config.BackendCouchbase:
		return cb.Snapshots(), nil
	case config.BackendMySQL:
		store, err := snapshot.OpenMySQL(ctx, snapshot.MySQLConfig{
			Host:     a.Config.MySQLHost,
			Port:     a.Config.MySQLPort,
			User:     a.Config.MySQLUser,
			Password: a.Config.MySQLPassword,
			Database: a.Config.MySQLDatabase,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.BackendMemory:
		return snapshot.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", a.Config.SnapshotBackend)
}

func (a *App) cacheStore(cb *couchbase.Client) (cache.Store, error) {
	switch a.Config.CacheBackend {
	case config.BackendCouchbase:
		return cb.Cache(), nil
	case config.BackendBadger:
		logger := a.logger.With().Str("component", "badger").Logger()
		store, err := cache.OpenBadger(cache.BadgerConfig{
			Path:     a.Config.BadgerPath,
			InMemory: a.Config.BadgerPath == "",
			Logger:   &logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.Config.CacheBackend)
}

func (a *App) buildPipeline(cb *couchbase.Client, store snapshot.Store) error {
	backend, err := a.cacheStore(cb)
	if err != nil {
		return err
	}

	caches := orchestrator.Caches{}
	if caches.Dates, err = cache.New(NamespaceCompatibilityDate, backend, cache.WithLogger(a.logger)); err != nil {
		return err
	}
	if caches.Schema, err = cache.New(NamespaceOpenAPI, backend, cache.WithLogger(a.logger)); err != nil {
		return err
	}
	if a.Config.CacheStatusDocument {
		if caches.Status, err = cache.New(NamespaceStatus, backend, cache.WithLogger(a.logger)); err != nil {
			return err
		}
	}

	client := esi.NewClient(a.Config.ESIBaseURL, a.Config.HTTPTimeout,
		esi.WithUserAgent(esi.UserAgent(a.Config.UserAgentProduct, a.Config.UserAgentVersion, a.Config.RepoURL)),
		esi.WithLogger(a.logger),
	)

	var locker orchestrator.Locker
	if cb != nil {
		locker = cb.Locker()
	} else {
		locker = orchestrator.NewLocalLocker()
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Fetcher:  client,
		Caches:   caches,
		Store:    store,
		Locker:   locker,
		Enricher: enrich.New(a.Config.Variant(), enrich.WithLogger(a.logger)),
		Logger:   &a.logger,
	})
	return err
}

// Handlers returns the API handlers over the app's view
func (a *App) Handlers() *api.Handlers {
	var opts []api.Option
	if a.Orchestrator != nil {
		opts = append(opts, api.WithPipelineState(func() string {
			return a.Orchestrator.State().String()
		}))
	}
	return api.NewHandlers(a.View, opts...)
}

// Close releases backends in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
