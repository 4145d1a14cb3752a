package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/round"
)

const controlTimeout = 2 * time.Second

// Resetter is the part of Runner the control subscription needs.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ServeResets answers reset requests on subject so a standalone gateway can
// reset the arena without a direct connection to the controller.
func ServeResets(nc *nats.Conn, subject string, r Resetter) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		reply := resetReply(r.Reset(ctx))
		data, err := json.Marshal(reply)
		if err != nil {
			log.Error().Err(err).Msg("failed to marshal reset reply")
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Error().Err(err).Msg("failed to answer reset request")
			return
		}
		log.Info().Str("code", reply.Code).Msg("reset request answered")
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func resetReply(err error) events.ResetReply {
	switch {
	case err == nil:
		return events.ResetReply{Code: events.ResetOK}
	case errors.Is(err, round.ErrStateViolation):
		return events.ResetReply{Code: events.ResetStateViolation, Error: err.Error()}
	case errors.Is(err, ErrStopped):
		return events.ResetReply{Code: events.ResetUnavailable, Error: err.Error()}
	default:
		return events.ResetReply{Code: events.ResetFailed, Error: err.Error()}
	}
}
