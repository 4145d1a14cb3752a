package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
)

// RoundSaver is the part of Store the recorder needs.
type RoundSaver interface {
	SaveRound(ctx context.Context, rec Record) (bool, error)
}

// Recorder is an event publisher that stores every finished round.
type Recorder struct {
	store RoundSaver
}

func NewRecorder(store RoundSaver) *Recorder {
	return &Recorder{store: store}
}

// Publish saves RoundEnded events and ignores the rest.
func (r *Recorder) Publish(ctx context.Context, ev events.Event) error {
	if ev.Type != events.EventTypeRoundEnded {
		return nil
	}

	rec, err := recordFromEvent(ev)
	if err != nil {
		return err
	}

	inserted, err := r.store.SaveRound(ctx, rec)
	if err != nil {
		return fmt.Errorf("save round %s: %w", rec.RoundID, err)
	}

	log.Info().
		Str("round_id", rec.RoundID.String()).
		Str("winner", rec.Winner).
		Bool("draw", rec.Draw).
		Bool("duplicate", !inserted).
		Msg("round recorded")
	return nil
}

func recordFromEvent(ev events.Event) (Record, error) {
	payload, err := events.ParsePayload(ev)
	if err != nil {
		return Record{}, fmt.Errorf("parse %s payload: %w", ev.Type, err)
	}
	p, ok := payload.(events.RoundEndedPayload)
	if !ok {
		return Record{}, fmt.Errorf("unexpected payload %T for %s", payload, ev.Type)
	}

	penalties := p.Penalties
	if penalties == nil {
		penalties = map[string]int{}
	}
	return Record{
		RoundID:   ev.RoundID,
		StartedAt: p.EndedAt.Add(-time.Duration(p.ElapsedMs) * time.Millisecond),
		EndedAt:   p.EndedAt,
		ElapsedMs: p.ElapsedMs,
		Winner:    p.Winner,
		Draw:      p.Draw,
		Penalties: penalties,
	}, nil
}
