package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

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

	zerolog_config.SetAppPrefix("esistatus-update")
	zerolog_config.StartupWithEnv(cfg.ElasticsearchURL, "logs", cfg.LogLevel)

	metrics.Configure(cfg.BusinessMetrics, false)

	log.Info().Msg("Starting esistatus one-shot update")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	orchestrator.NewSignalHandler().HandleSignals(ctx, cancel)

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise components")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close backends")
		}
	}()

	res, err := a.Orchestrator.Run(ctx)
	if code := report(log.Logger, res, err); code != 0 {
		a.Close()
		os.Exit(code)
	}
}

// report logs the run result and returns the process exit code
func report(logger zerolog.Logger, res orchestrator.Result, err error) int {
	if err != nil {
		logger.Error().
			Err(err).
			Str("run_id", res.RunID).
			Str("failed_state", res.FailedState.String()).
			Msg("ESI status update failed")
		return 1
	}

	logger.Info().
		Str("run_id", res.RunID).
		Str("outcome", string(res.Outcome)).
		Str("compatibility_date", res.CompatibilityDate).
		Int("routes", res.Routes).
		Msg("ESI status update completed")
	return 0
}
