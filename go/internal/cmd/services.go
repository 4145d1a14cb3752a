package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/gameconfig"
	"github.com/mcdev12/impact/go/internal/gateway"
	"github.com/mcdev12/impact/go/internal/history"
	"github.com/mcdev12/impact/go/internal/publisher"
	"github.com/mcdev12/impact/go/internal/round"
	"github.com/mcdev12/impact/go/internal/serialframe"
	"github.com/mcdev12/impact/go/internal/session"
)

type Services struct {
	Runner  *session.Runner
	Gateway *gateway.Service

	closers []io.Closer
}

// setupServices wires the round runner to its publishers:
// machine → runner → metrics wrapper → [log, gateway, outbox → JetStream?, history?]
func setupServices(ctx context.Context, cfg gameconfig.Config) (*Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Services{}
	clock := clockwork.NewRealClock()
	machine := round.NewMachine(cfg.Game, clock)

	// The runner is the gateway's controller, and the gateway is one of the
	// runner's publishers, so the gateway gets the runner through a late
	// binding.
	controller := &lateController{}
	s.Gateway = gateway.NewService(gateway.DefaultConfig(), controller, registry)

	publishers := []publisher.EventPublisher{
		publisher.NewLogPublisher(),
		s.Gateway,
	}

	natsURL := gameconfig.GetEnv("NATS_URL", "")
	var nc *nats.Conn
	if natsURL != "" {
		jsCfg := publisher.DefaultJetStreamConfig()
		jsCfg.URL = natsURL
		js, err := publisher.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		s.closers = append(s.closers, js)
		nc = js.Conn()

		// A stalled bus must not hold up the round loop.
		outbox := publisher.NewOutbox(js, publisher.DefaultOutboxConfig(), clock)
		if err := outbox.Start(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, outbox)
		publishers = append(publishers, outbox)
		log.Info().Str("nats_url", natsURL).Msg("publishing round events to JetStream")
	}

	store, closeDB, err := setupHistory(ctx, cfg.Database)
	if err != nil {
		s.Close()
		return nil, err
	}
	if store != nil {
		s.closers = append(s.closers, closeDB)
		publishers = append(publishers, history.NewRecorder(store))
		s.Gateway.WithHistory(store)
	}

	pub := publisher.NewMetricPublisher(
		publisher.NewMultiPublisher(publishers...),
		publisher.NewPrometheusMetrics(registry),
	)

	runner, err := session.NewRunner(cfg, machine, pub, clock, session.NewMetrics(registry))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Runner = runner
	controller.Controller = runner

	if nc != nil {
		sub, err := session.ServeResets(nc, events.ResetSubject, runner)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, closerFunc(sub.Unsubscribe))
	}

	return s, nil
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
	s.closers = nil
}

// openSource opens the serial port, or a capture file when replaying ("-"
// is stdin).
func openSource(cfg gameconfig.Config, replayPath string) (io.ReadCloser, error) {
	if replayPath == "-" {
		log.Info().Msg("reading frames from stdin")
		return os.Stdin, nil
	}
	if replayPath != "" {
		f, err := os.Open(replayPath)
		if err != nil {
			return nil, fmt.Errorf("open replay file: %w", err)
		}
		log.Info().Str("file", replayPath).Msg("replaying captured frames")
		return f, nil
	}
	return serialframe.Open(cfg.Serial)
}

type lateController struct {
	gateway.Controller
}

// Reset reports a runner that is not running, or not bound yet, as an
// unavailable controller.
func (c *lateController) Reset(ctx context.Context) error {
	if c.Controller == nil {
		return gateway.ErrControllerUnavailable
	}
	err := c.Controller.Reset(ctx)
	if errors.Is(err, session.ErrStopped) {
		return fmt.Errorf("%w: %w", gateway.ErrControllerUnavailable, err)
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
