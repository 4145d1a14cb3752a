package round

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/impact/go/internal/events"
	"github.com/mcdev12/impact/go/internal/gameconfig"
	"github.com/mcdev12/impact/go/internal/serialframe"
)

// Machine drives one arena through Waiting → Playing → Victory.
//
// Every entry point (Handle, Tick, Reset) runs one cycle to completion and
// returns the events it produced. The round timer is checked once per
// cycle; nothing fires between calls. Machine is not safe for concurrent
// use: a single loop owns it.
type Machine struct {
	cfg   gameconfig.GameConfig
	clock clockwork.Clock
	eval  Evaluator
	cheat CheatDetector

	state     State
	roundID   uuid.UUID
	startedAt time.Time
	endedAt   time.Time
	warned    bool
	result    Result

	lastStart  int
	last       serialframe.Reading
	hasReading bool

	penalties map[Player]int
	offending map[Player]bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithEvaluator sets the battle evaluator. Defaults to NoWinner.
func WithEvaluator(e Evaluator) Option {
	return func(m *Machine) { m.eval = e }
}

// WithCheatDetector sets the cheat detector. Defaults to DefaultCheatDetector.
func WithCheatDetector(d CheatDetector) Option {
	return func(m *Machine) { m.cheat = d }
}

// NewMachine returns a machine in Waiting.
func NewMachine(cfg gameconfig.GameConfig, clock clockwork.Clock, opts ...Option) *Machine {
	m := &Machine{
		cfg:       cfg,
		clock:     clock,
		eval:      NoWinner,
		cheat:     DefaultCheatDetector(),
		state:     Waiting,
		lastStart: serialframe.Low,
		penalties: make(map[Player]int),
		offending: make(map[Player]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State { return m.state }

// Handle applies one decoded reading. A StateViolation error is returned
// alongside any events and leaves the state unchanged.
func (m *Machine) Handle(reading serialframe.Reading) ([]events.Event, error) {
	now := m.clock.Now()
	out := m.checkTimer(now)

	pressed := reading.StartButton() == serialframe.High && m.lastStart == serialframe.Low
	m.lastStart = reading.StartButton()
	m.last = reading
	m.hasReading = true

	switch m.state {
	case Waiting:
		if pressed {
			out = append(out, m.start(now))
			// A condition already present at the start is not an edge.
			for _, o := range m.cheat.Detect(reading) {
				m.offending[o.Player] = true
			}
		}

	case Playing:
		out = append(out, m.applyPenalties(reading, now)...)

		winner, decided := m.eval.Evaluate(reading, m.arena(now))
		if decided && winner != NoPlayer {
			out = append(out, m.end(now, Result{Winner: winner}))
		}

	case Victory:
		if pressed {
			return compact(out), fmt.Errorf("%w: start button pressed during %s", ErrStateViolation, m.state)
		}
	}

	return compact(out), nil
}

// Tick checks the round timer without a new reading.
func (m *Machine) Tick() []events.Event {
	return compact(m.checkTimer(m.clock.Now()))
}

// Reset returns a finished round to Waiting. Only Victory can be reset.
func (m *Machine) Reset() ([]events.Event, error) {
	if m.state != Victory {
		return nil, fmt.Errorf("%w: reset requested during %s", ErrStateViolation, m.state)
	}

	now := m.clock.Now()
	ev := m.emit(events.EventTypeRoundReset, now, events.RoundResetPayload{
		RoundID: m.roundID.String(),
		ResetAt: now,
	})

	log.Info().Str("round_id", m.roundID.String()).Msg("round reset")

	m.state = Waiting
	m.roundID = uuid.Nil
	m.warned = false
	m.result = Result{}
	m.startedAt = time.Time{}
	m.endedAt = time.Time{}
	clear(m.penalties)
	clear(m.offending)

	return compact([]events.Event{ev}), nil
}

// Snapshot copies the current state for readers outside the owning loop.
func (m *Machine) Snapshot() Snapshot {
	now := m.clock.Now()
	s := Snapshot{
		State:     m.state,
		RoundID:   m.roundID,
		StartedAt: m.startedAt,
		EndedAt:   m.endedAt,
		Elapsed:   m.elapsed(now),
		Warned:    m.warned,
		Penalties: m.penaltiesByName(),
	}
	if m.state == Playing {
		s.Remaining = max(m.cfg.RoundTime-s.Elapsed, 0)
	}
	if m.hasReading {
		r := m.last
		s.LastReading = &r
	}
	if m.state == Victory {
		s.Winner = m.result.Winner.String()
		s.Draw = m.result.Draw()
	}
	return s
}

// Result returns the outcome of the last finished round.
func (m *Machine) Result() (Result, bool) {
	return m.result, m.state == Victory
}

// Penalties returns how many penalties p has collected this round.
func (m *Machine) Penalties(p Player) int { return m.penalties[p] }

func (m *Machine) start(now time.Time) events.Event {
	m.state = Playing
	m.roundID = uuid.New()
	m.startedAt = now
	m.warned = false

	log.Info().
		Str("round_id", m.roundID.String()).
		Dur("round_time", m.cfg.RoundTime).
		Msg("round started")

	return m.emit(events.EventTypeRoundStarted, now, events.RoundStartedPayload{
		RoundID:         m.roundID.String(),
		StartedAt:       now,
		RoundTimeMs:     m.cfg.RoundTime.Milliseconds(),
		WarningAtMs:     m.cfg.WarningAt().Milliseconds(),
		EndsAt:          now.Add(m.cfg.RoundTime),
		FieldWidth:      m.cfg.FieldWidth,
		BeaconFrequency: m.cfg.BeaconFrequency,
	})
}

// checkTimer raises the warning and ends the round on time. When one cycle
// crosses both marks the warning still comes first.
func (m *Machine) checkTimer(now time.Time) []events.Event {
	if m.state != Playing {
		return nil
	}

	var out []events.Event
	elapsed := now.Sub(m.startedAt)

	if !m.warned && elapsed >= m.cfg.WarningAt() {
		m.warned = true
		log.Info().
			Str("round_id", m.roundID.String()).
			Dur("elapsed", elapsed).
			Msg("round warning raised")
		out = append(out, m.emit(events.EventTypeWarningRaised, now, events.WarningRaisedPayload{
			RoundID:     m.roundID.String(),
			RaisedAt:    now,
			ElapsedMs:   elapsed.Milliseconds(),
			RemainingMs: max(m.cfg.RoundTime-elapsed, 0).Milliseconds(),
		}))
	}

	if elapsed >= m.cfg.RoundTime {
		out = append(out, m.end(m.startedAt.Add(m.cfg.RoundTime), Result{Winner: NoPlayer}))
	}
	return out
}

func (m *Machine) end(at time.Time, result Result) events.Event {
	m.state = Victory
	m.endedAt = at
	m.result = result

	log.Info().
		Str("round_id", m.roundID.String()).
		Str("winner", result.Winner.String()).
		Bool("draw", result.Draw()).
		Dur("elapsed", at.Sub(m.startedAt)).
		Msg("round ended")

	return m.emit(events.EventTypeRoundEnded, at, events.RoundEndedPayload{
		RoundID:   m.roundID.String(),
		Winner:    result.Winner.String(),
		Draw:      result.Draw(),
		EndedAt:   at,
		ElapsedMs: at.Sub(m.startedAt).Milliseconds(),
		Penalties: m.penaltiesByName(),
	})
}

// applyPenalties charges a penalty when a player enters an invalid state.
// Staying in it does not charge again.
func (m *Machine) applyPenalties(reading serialframe.Reading, now time.Time) []events.Event {
	current := make(map[Player]string)
	for _, o := range m.cheat.Detect(reading) {
		current[o.Player] = o.Reason
	}

	var out []events.Event
	for _, p := range players {
		reason, cheating := current[p]
		if cheating && !m.offending[p] {
			m.penalties[p]++
			log.Warn().
				Str("round_id", m.roundID.String()).
				Str("player", p.String()).
				Str("reason", reason).
				Int("offences", m.penalties[p]).
				Msg("cheating penalty applied")
			out = append(out, m.emit(events.EventTypeCheatingPenaltyApplied, now, events.CheatingPenaltyPayload{
				RoundID:   m.roundID.String(),
				Player:    p.String(),
				Penalty:   m.cfg.CheatingPenaltyTime,
				Offences:  m.penalties[p],
				Reason:    reason,
				AppliedAt: now,
			}))
		}
		m.offending[p] = cheating
	}
	return out
}

func (m *Machine) arena(now time.Time) Arena {
	penalties := make(map[Player]int, len(m.penalties))
	for p, n := range m.penalties {
		penalties[p] = n
	}
	return Arena{
		FieldWidth:             m.cfg.FieldWidth,
		MaxPlayerMovementSpeed: m.cfg.MaxPlayerMovementSpeed,
		MinimumCenterSpacing:   m.cfg.MinimumCenterSpacing,
		BattleThreshold:        m.cfg.BattleThreshold,
		Elapsed:                now.Sub(m.startedAt),
		Penalties:              penalties,
	}
}

func (m *Machine) elapsed(now time.Time) time.Duration {
	switch m.state {
	case Playing:
		return now.Sub(m.startedAt)
	case Victory:
		return m.endedAt.Sub(m.startedAt)
	default:
		return 0
	}
}

func (m *Machine) penaltiesByName() map[string]int {
	out := make(map[string]int, len(players))
	for _, p := range players {
		out[p.String()] = m.penalties[p]
	}
	return out
}

// emit builds an event envelope. Payloads are plain structs, so a marshal
// failure is logged and the event dropped rather than stalling the round.
func (m *Machine) emit(eventType events.EventType, at time.Time, payload any) events.Event {
	ev, err := events.New(eventType, m.roundID, at, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return events.Event{}
	}
	return ev
}

func compact(evs []events.Event) []events.Event {
	out := evs[:0]
	for _, ev := range evs {
		if ev.Type != "" {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
