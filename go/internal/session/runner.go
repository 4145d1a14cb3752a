package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/gameconfig"
	"github.com/mcdev12/impact/go/internal/publisher"
	"github.com/mcdev12/impact/go/internal/round"
	"github.com/mcdev12/impact/go/internal/serialframe"
)

const (
	readBufferSize   = 256
	chunkChannelSize = 16
	publishTimeout   = 2 * time.Second
)

// ErrStopped is returned by Reset when the runner is not running.
var ErrStopped = errors.New("session runner stopped")

// Runner owns the decoder and the round machine. All decoding and state
// transitions happen on the goroutine that calls Run, one cycle at a time.
type Runner struct {
	decoder   *serialframe.Decoder
	machine   *round.Machine
	publisher publisher.EventPublisher
	clock     clockwork.Clock
	tick      time.Duration
	metrics   *Metrics

	resetCh  chan chan error
	running  atomic.Bool
	snapshot atomic.Pointer[round.Snapshot]
}

// NewRunner wires a decoder for cfg.Serial to machine. metrics may be nil.
func NewRunner(cfg gameconfig.Config, machine *round.Machine, pub publisher.EventPublisher, clock clockwork.Clock, metrics *Metrics) (*Runner, error) {
	format, err := serialframe.ParseFormat(cfg.Serial.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to configure decoder: %w", err)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	r := &Runner{
		decoder:   serialframe.NewDecoder(cfg.Serial.Delimiter, format),
		machine:   machine,
		publisher: pub,
		clock:     clock,
		tick:      cfg.Game.TickInterval,
		metrics:   metrics,
		resetCh:   make(chan chan error),
	}
	r.storeSnapshot()
	return r, nil
}

// Run processes src until ctx is cancelled or src fails. io.EOF ends the
// run cleanly. Closing src is the caller's job; a blocked Read only returns
// once the caller closes it.
func (r *Runner) Run(ctx context.Context, src io.Reader) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("session runner already running")
	}
	defer r.running.Store(false)

	log.Info().Dur("tick", r.tick).Msg("session runner started")

	chunks := make(chan []byte, chunkChannelSize)
	pumpErr := make(chan error, 1)
	go pump(ctx, src, chunks, pumpErr)

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session runner shutting down")
			return nil

		case chunk, ok := <-chunks:
			if !ok {
				err := <-pumpErr
				if errors.Is(err, io.EOF) {
					log.Info().Msg("serial stream ended")
					return nil
				}
				return fmt.Errorf("read serial stream: %w", err)
			}
			r.process(ctx, chunk)

		case <-ticker.Chan():
			evs := r.machine.Tick()
			r.storeSnapshot()
			r.publish(ctx, evs)

		case reply := <-r.resetCh:
			evs, err := r.machine.Reset()
			if err != nil {
				log.Warn().Err(err).Msg("reset ignored")
				r.metrics.recordViolation()
			}
			r.storeSnapshot()
			r.publish(ctx, evs)
			reply <- err
		}
	}
}

// Reset asks the running loop to reset a finished round and waits for the
// outcome.
func (r *Runner) Reset(ctx context.Context) error {
	if !r.running.Load() {
		return ErrStopped
	}
	reply := make(chan error, 1)
	select {
	case r.resetCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state as of the last completed cycle. Safe to call
// from any goroutine.
func (r *Runner) Snapshot() round.Snapshot {
	return *r.snapshot.Load()
}

// process decodes one chunk and runs every completed frame through the
// machine before returning. The snapshot is stored before the frame's
// events go out, so a reader never sees an event ahead of its state.
func (r *Runner) process(ctx context.Context, chunk []byte) {
	for _, frame := range r.decoder.Feed(chunk) {
		if frame.Err != nil {
			r.metrics.recordFrame(frame.Err)
			log.Warn().Err(frame.Err).Msg("discarded serial frame")
			continue
		}
		r.metrics.recordFrame(nil)

		evs, err := r.machine.Handle(frame.Reading)
		if err != nil {
			r.metrics.recordViolation()
			log.Debug().Err(err).Str("reading", frame.Reading.String()).Msg("reading ignored")
		}
		r.storeSnapshot()
		r.publish(ctx, evs)
	}
}

func (r *Runner) publish(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := r.publisher.Publish(pctx, ev)
		cancel()
		if err != nil {
			log.Error().
				Err(err).
				Str("event_type", string(ev.Type)).
				Str("event_id", ev.ID.String()).
				Msg("failed to publish event")
		}
	}
}

func (r *Runner) storeSnapshot() {
	s := r.machine.Snapshot()
	r.snapshot.Store(&s)
	r.metrics.recordState(s.State)
}

// pump copies src into chunks until a read fails, then closes chunks and
// reports the error.
func pump(ctx context.Context, src io.Reader, chunks chan<- []byte, errc chan<- error) {
	defer close(chunks)

	buf := make([]byte, readBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
	}
}
