package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
)

var (
	ErrOutboxFull   = errors.New("outbox full")
	ErrOutboxClosed = errors.New("outbox closed")
)

type OutboxConfig struct {
	BufferSize     int
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
}

func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BufferSize:     256,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Outbox decouples the round loop from a slow bus. Publish only enqueues;
// a background worker delivers events in order, retrying each with a linear
// backoff before giving up on it.
type Outbox struct {
	publisher EventPublisher
	config    OutboxConfig
	clock     clockwork.Clock

	queue chan events.Event

	mu      sync.Mutex
	running bool
	closed  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	delivered atomic.Uint64
	abandoned atomic.Uint64
}

type OutboxStats struct {
	Pending   int    `json:"pending"`
	Delivered uint64 `json:"delivered"`
	Abandoned uint64 `json:"abandoned"`
}

func NewOutbox(publisher EventPublisher, config OutboxConfig, clock clockwork.Clock) *Outbox {
	config.BufferSize = max(config.BufferSize, 1)
	config.MaxRetries = max(config.MaxRetries, 0)
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultOutboxConfig().PublishTimeout
	}
	return &Outbox{
		publisher: publisher,
		config:    config,
		clock:     clock,
		queue:     make(chan events.Event, config.BufferSize),
		stopCh:    make(chan struct{}),
	}
}

func (o *Outbox) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return ErrOutboxClosed
	}
	if o.running {
		return fmt.Errorf("outbox worker already running")
	}
	o.running = true

	o.wg.Add(1)
	go o.run(ctx)

	log.Info().
		Int("buffer_size", o.config.BufferSize).
		Int("max_retries", o.config.MaxRetries).
		Msg("outbox worker started")
	return nil
}

// Publish enqueues the event without waiting for delivery.
func (o *Outbox) Publish(ctx context.Context, event events.Event) error {
	if o.closed.Load() {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- event:
		return nil
	default:
		o.abandoned.Add(1)
		return fmt.Errorf("%w: dropping %s", ErrOutboxFull, event.Type)
	}
}

// Close stops the worker after one final delivery attempt for whatever is
// still queued.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if !o.closed.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return nil
	}
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()

	stats := o.Stats()
	log.Info().
		Uint64("delivered", stats.Delivered).
		Uint64("abandoned", stats.Abandoned).
		Int("pending", stats.Pending).
		Msg("outbox worker stopped")
	return nil
}

func (o *Outbox) Stats() OutboxStats {
	return OutboxStats{
		Pending:   len(o.queue),
		Delivered: o.delivered.Load(),
		Abandoned: o.abandoned.Load(),
	}
}

func (o *Outbox) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			o.drain()
			return
		case <-o.stopCh:
			o.drain()
			return
		case ev := <-o.queue:
			if err := o.publishWithRetry(ctx, ev); err != nil {
				o.abandoned.Add(1)
				log.Error().Err(err).
					Str("event_id", ev.ID.String()).
					Str("event_type", string(ev.Type)).
					Msg("failed to deliver event")
				continue
			}
			o.delivered.Add(1)
		}
	}
}

// drain makes a single attempt for each queued event. The caller's context
// may already be cancelled at this point.
func (o *Outbox) drain() {
	for {
		select {
		case ev := <-o.queue:
			if err := o.attempt(context.Background(), ev); err != nil {
				o.abandoned.Add(1)
				log.Warn().Err(err).
					Str("event_id", ev.ID.String()).
					Msg("dropping undelivered event on shutdown")
				continue
			}
			o.delivered.Add(1)
		default:
			return
		}
	}
}

func (o *Outbox) publishWithRetry(ctx context.Context, event events.Event) error {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.stopCh:
				return fmt.Errorf("stopped after %d attempts: %w", attempt, lastErr)
			case <-o.clock.After(o.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := o.attempt(ctx, event); err != nil {
			lastErr = err
			log.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", o.config.MaxRetries+1, lastErr)
}

func (o *Outbox) attempt(ctx context.Context, event events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.PublishTimeout)
	defer cancel()
	return o.publisher.Publish(ctx, event)
}
