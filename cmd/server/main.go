package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CroLens/server/internal/config"
	"github.com/CroLens/server/pkg/crolens"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := crolens.NewApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("assemble application")
	}
	app.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().Str("address", cfg.Server.Address).Msg("server.listening")
		errCh <- app.Server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		app.Logger.Info().Str("signal", sig.String()).Msg("server.shutdown_requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Msg("server.failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		app.Logger.Error().Err(err).Msg("server.close_failed")
	}
}
