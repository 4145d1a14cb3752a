package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/gameconfig"
)

func main() {
	configPath := flag.String("config", "", "YAML file overriding the game constants")
	replayPath := flag.String("replay", "", "read frames from a capture file instead of the serial port")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel(gameconfig.GetEnv("LOG_LEVEL", "info")))

	if *configPath == "" {
		*configPath = gameconfig.GetEnv("ARENA_CONFIG", "")
	}
	cfg, err := gameconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().
		Str("serial_port", cfg.Serial.Port).
		Str("format", cfg.Serial.Format).
		Dur("round_time", cfg.Game.RoundTime).
		Dur("warning_time", cfg.Game.WarningTime).
		Msg("starting arena controller")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	src, err := openSource(cfg, *replayPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open frame source")
	}

	server := setupServer(services.Gateway.Handler())

	go services.Gateway.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- services.Runner.Run(ctx, src)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("session runner stopped")
		} else {
			log.Info().Msg("frame source exhausted")
		}
	}
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Unblocks a pending serial read
	if err := src.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close frame source")
	}

	log.Info().Msg("arena controller shutdown complete")
}

func logLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
