package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/round"
)

// ErrControllerUnavailable is returned when no controller answers a reset.
var ErrControllerUnavailable = errors.New("arena controller unavailable")

// Requester sends a request and waits for the reply. *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// RemoteController answers state from a Tracker and forwards resets to the
// controller process over NATS request/reply.
type RemoteController struct {
	nc      Requester
	subject string
	tracker *Tracker
}

func NewRemoteController(nc Requester, subject string, tracker *Tracker) *RemoteController {
	return &RemoteController{nc: nc, subject: subject, tracker: tracker}
}

func (c *RemoteController) Snapshot() round.Snapshot {
	return c.tracker.Snapshot()
}

func (c *RemoteController) Reset(ctx context.Context) error {
	msg, err := c.nc.RequestWithContext(ctx, c.subject, nil)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return ErrControllerUnavailable
		}
		return fmt.Errorf("reset request: %w", err)
	}

	var reply events.ResetReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode reset reply: %w", err)
	}
	if err := replyError(reply); err != nil {
		return err
	}

	// The RoundReset event arrives later through the stream; the caller
	// expects the reset state now.
	c.tracker.resetLocal()
	return nil
}

// replyError maps a reset reply back onto the errors a local controller
// would return.
func replyError(reply events.ResetReply) error {
	switch reply.Code {
	case events.ResetOK:
		return nil
	case events.ResetStateViolation:
		return fmt.Errorf("%w: %s", round.ErrStateViolation, reply.Error)
	case events.ResetUnavailable:
		return ErrControllerUnavailable
	default:
		return fmt.Errorf("reset failed: %s", reply.Error)
	}
}
