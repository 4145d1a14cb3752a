package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/dbconfig"
	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/gateway"
	"github.com/mcdev12/impact/go/internal/history"
	"github.com/mcdev12/impact/go/internal/publisher"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Get configuration
	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	origins := strings.Split(getEnv("GATEWAY_ALLOWED_ORIGINS", "*"), ",")

	log.Info().
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting arena gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, js, err := publisher.Connect(natsURL, -1, 2*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nc.Close()

	// State comes from the event stream; resets go back to the controller.
	tracker := gateway.NewTracker(clockwork.NewRealClock())
	controller := gateway.NewRemoteController(nc, events.ResetSubject, tracker)

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.AllowedOrigins = origins
	gatewayService := gateway.NewService(gatewayConfig, controller, prometheus.NewRegistry())

	if dsn, ok := dbconfig.ResolveDSN(getEnv("ARENA_DATABASE_URL", "")); ok {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create database pool")
		}
		defer pool.Close()
		gatewayService.WithHistory(history.NewStore(pool))
		log.Info().Msg("serving round history")
	}

	consumer, err := gateway.NewEventConsumer(ctx, js,
		publisher.NewMultiPublisher(tracker, gatewayService),
		gateway.DefaultJetStreamConsumerConfig(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           gatewayService.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go gatewayService.Start(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("arena gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
