package publisher

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
)

// EventPublisher delivers round events to an external collaborator.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// LogPublisher writes events to the log. Useful when no bus is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event events.Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("round_id", event.RoundID.String()).
		RawJSON("payload", event.Payload).
		Msg("publishing event")
	return nil
}

// MultiPublisher fans one event out to several publishers. Every publisher
// is attempted; their errors are joined.
type MultiPublisher struct {
	publishers []EventPublisher
}

func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, event events.Event) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
