package gateway

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/round"
)

// Tracker rebuilds the arena state from the event stream. The standalone
// gateway serves it in place of the controller's own snapshot; it has no
// readings, so LastReading stays empty.
type Tracker struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	snap      round.Snapshot
	roundTime time.Duration
}

func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{
		clock: clock,
		snap:  waitingSnapshot(),
	}
}

// Publish applies ev to the tracked state.
func (t *Tracker) Publish(ctx context.Context, ev events.Event) error {
	payload, err := events.ParsePayload(ev)
	if err != nil {
		return fmt.Errorf("track %s: %w", ev.Type, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch p := payload.(type) {
	case events.RoundStartedPayload:
		t.snap = waitingSnapshot()
		t.snap.State = round.Playing
		t.snap.RoundID = ev.RoundID
		t.snap.StartedAt = p.StartedAt
		t.roundTime = time.Duration(p.RoundTimeMs) * time.Millisecond

	case events.WarningRaisedPayload:
		if ev.RoundID == t.snap.RoundID {
			t.snap.Warned = true
		}

	case events.CheatingPenaltyPayload:
		if ev.RoundID == t.snap.RoundID {
			t.snap.Penalties[p.Player] = p.Offences
		}

	case events.RoundEndedPayload:
		t.snap.State = round.Victory
		t.snap.RoundID = ev.RoundID
		t.snap.EndedAt = p.EndedAt
		t.snap.Elapsed = time.Duration(p.ElapsedMs) * time.Millisecond
		t.snap.Remaining = 0
		t.snap.Winner = p.Winner
		t.snap.Draw = p.Draw
		if p.Penalties != nil {
			t.snap.Penalties = maps.Clone(p.Penalties)
		}

	case events.RoundResetPayload:
		t.snap = waitingSnapshot()
		t.roundTime = 0
	}
	return nil
}

// resetLocal applies a reset the controller has confirmed. Only a finished
// round is cleared, so a stream that has already moved on to the next round
// is left alone.
func (t *Tracker) resetLocal() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State == round.Victory {
		t.snap = waitingSnapshot()
		t.roundTime = 0
	}
}

// Snapshot returns the tracked state with time fields as of now.
func (t *Tracker) Snapshot() round.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.snap
	s.Penalties = maps.Clone(t.snap.Penalties)
	if s.State == round.Playing {
		s.Elapsed = t.clock.Since(s.StartedAt)
		s.Remaining = max(t.roundTime-s.Elapsed, 0)
	}
	return s
}

func waitingSnapshot() round.Snapshot {
	return round.Snapshot{
		State: round.Waiting,
		Penalties: map[string]int{
			round.Player1.String(): 0,
			round.Player2.String(): 0,
		},
	}
}
