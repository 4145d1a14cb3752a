package gateway

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
)

// Service is the arena gateway: display WebSockets plus the state, reset,
// health and metrics endpoints.
type Service struct {
	connectionManager *ConnectionManager
	handler           *Handler
	registry          *prometheus.Registry
	allowedOrigins    []string
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	AllowedOrigins   []string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		AllowedOrigins:   []string{"*"},
	}
}

// NewService creates the gateway. Collectors registered on registry are
// served on /metrics, including the gateway's own connection gauge.
func NewService(config Config, controller Controller, registry *prometheus.Registry) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "arena",
		Name:      "gateway_connections",
		Help:      "Open display WebSocket connections.",
	}, func() float64 { return float64(cm.Count()) }))

	return &Service{
		connectionManager: cm,
		handler:           NewHandler(cm, controller),
		registry:          registry,
		allowedOrigins:    config.AllowedOrigins,
	}
}

// WithHistory serves finished rounds on GET /rounds.
func (s *Service) WithHistory(h RoundHistory) *Service {
	s.handler.history = h
	return s
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting arena gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("arena gateway service stopped")
}

// Publish broadcasts ev to the connected displays.
func (s *Service) Publish(ctx context.Context, ev events.Event) error {
	return s.connectionManager.Publish(ctx, ev)
}

// Handler returns every gateway route wrapped with CORS.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.allowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	log.Info().Msg("arena gateway routes registered")
	return c.Handler(mux)
}

// Stats returns statistics about the gateway connections
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.Stats()
}
