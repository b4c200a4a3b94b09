package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/api"
	"stealthcompany.com/esistatus/internal/app"
	"stealthcompany.com/esistatus/internal/config"
	"stealthcompany.com/esistatus/internal/metrics"
	"stealthcompany.com/esistatus/internal/orchestrator"
	"stealthcompany.com/esistatus/pkg/zerolog_config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, arg.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	zerolog_config.SetAppPrefix("esistatus")
	zerolog_config.StartupWithEnv(cfg.ElasticsearchURL, "logs", cfg.LogLevel)

	log.Info().
		Str("snapshot_backend", cfg.SnapshotBackend).
		Str("cache_backend", cfg.CacheBackend).
		Dur("interval", cfg.Interval).
		Msg("Starting esistatus service")

	metrics.Configure(cfg.BusinessMetrics, cfg.SystemMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator.NewSignalHandler().HandleSignals(ctx, cancel)
	metrics.StartSystemMetrics(ctx, "esistatus", 15*time.Second)

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orchestrator.NewScheduler(a.Orchestrator, cfg.Interval).Run(ctx)
	}()

	port := strconv.Itoa(cfg.APIPort)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           api.SetupRoutes(a.Handlers()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", port).
			Msg("Server starting")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().
				Err(err).
				Msg("Failed to start server")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// The in-flight run releases its lock before the backends close
	wg.Wait()

	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close backends")
	}

	log.Info().Msg("Service shutdown complete")
}
