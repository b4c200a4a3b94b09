package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/esistatus/internal/api"
	"stealthcompany.com/esistatus/internal/app"
	"stealthcompany.com/esistatus/internal/config"
	"stealthcompany.com/esistatus/internal/metrics"
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

	zerolog_config.SetAppPrefix("esistatus-api")
	zerolog_config.StartupWithEnv(cfg.ElasticsearchURL, "logs", cfg.LogLevel)

	log.Info().Msg("Starting esistatus API service")

	metrics.Configure(cfg.BusinessMetrics, cfg.SystemMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.StartSystemMetrics(ctx, "esistatus-api", 15*time.Second)

	a, err := app.New(ctx, cfg, log.Logger, app.ReadOnly())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}

	port := strconv.Itoa(cfg.APIPort)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           api.SetupRoutes(a.Handlers()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().
			Str("port", port).
			Msg("Server starting")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().
				Err(err).
				Msg("Failed to start server")
		}
	}()

	<-sigChan
	log.Info().Msg("Received shutdown signal, shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Closing snapshot store...")
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close snapshot store")
	}

	log.Info().Msg("API service shutdown complete")
}
