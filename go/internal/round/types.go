package round

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/impact/go/internal/serialframe"
)

// State is the round lifecycle stage.
type State int

const (
	// Waiting is the initial state; the round starts on a start-button press.
	Waiting State = iota
	// Playing lasts until a winner is found or the round time runs out.
	Playing
	// Victory is terminal until an explicit reset.
	Victory
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Playing:
		return "playing"
	case Victory:
		return "victory"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "waiting":
		*s = Waiting
	case "playing":
		*s = Playing
	case "victory":
		*s = Victory
	default:
		return fmt.Errorf("unknown round state %q", text)
	}
	return nil
}

// Player identifies one side of the arena. NoPlayer marks a draw.
type Player int

const (
	NoPlayer Player = iota
	Player1
	Player2
)

var players = [...]Player{Player1, Player2}

func (p Player) String() string {
	switch p {
	case Player1:
		return "player1"
	case Player2:
		return "player2"
	default:
		return ""
	}
}

// Result is the outcome of a finished round.
type Result struct {
	Winner Player
}

func (r Result) Draw() bool { return r.Winner == NoPlayer }

// ErrStateViolation is returned for inputs the current state does not
// accept, e.g. the start button during Victory. The machine ignores them.
var ErrStateViolation = errors.New("state violation")

// Arena is what an Evaluator sees each cycle.
type Arena struct {
	FieldWidth             int
	MaxPlayerMovementSpeed int
	MinimumCenterSpacing   int
	BattleThreshold        int
	Elapsed                time.Duration
	Penalties              map[Player]int
}

// Evaluator decides whether the battle has a winner. The arena's battle
// rules live outside this package.
type Evaluator interface {
	Evaluate(reading serialframe.Reading, arena Arena) (winner Player, decided bool)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(reading serialframe.Reading, arena Arena) (Player, bool)

func (f EvaluatorFunc) Evaluate(reading serialframe.Reading, arena Arena) (Player, bool) {
	return f(reading, arena)
}

// NoWinner never decides; rounds then always end on time as a draw.
var NoWinner = EvaluatorFunc(func(serialframe.Reading, Arena) (Player, bool) {
	return NoPlayer, false
})

// Offence is one player's invalid physical state in a reading.
type Offence struct {
	Player Player
	Reason string
}

// CheatDetector reports which players are in an invalid physical state.
type CheatDetector interface {
	Detect(reading serialframe.Reading) []Offence
}

// SensorCheatDetector flags a player whose strap reads StrapCheatLevel, or
// whose left and right IR sensors are both High at once.
type SensorCheatDetector struct {
	StrapCheatLevel int
}

// DefaultCheatDetector treats a High strap as a player out of the strap.
func DefaultCheatDetector() SensorCheatDetector {
	return SensorCheatDetector{StrapCheatLevel: serialframe.High}
}

func (d SensorCheatDetector) Detect(r serialframe.Reading) []Offence {
	var out []Offence
	check := func(p Player, strap, left, right serialframe.Field) {
		switch {
		case r.Get(strap) == d.StrapCheatLevel:
			out = append(out, Offence{Player: p, Reason: "strap"})
		case r.High(left) && r.High(right):
			out = append(out, Offence{Player: p, Reason: "both_ir"})
		}
	}
	check(Player1, serialframe.Strap1, serialframe.LeftIR1, serialframe.RightIR1)
	check(Player2, serialframe.Strap2, serialframe.LeftIR2, serialframe.RightIR2)
	return out
}

// Snapshot is a read-only copy of the machine's state.
type Snapshot struct {
	State       State                `json:"state"`
	RoundID     uuid.UUID            `json:"round_id"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`
	Elapsed     time.Duration        `json:"elapsed"`
	Remaining   time.Duration        `json:"remaining"`
	Warned      bool                 `json:"warned"`
	LastReading *serialframe.Reading `json:"last_reading,omitempty"`
	Penalties   map[string]int       `json:"penalties"`
	Winner      string               `json:"winner,omitempty"`
	Draw        bool                 `json:"draw"`
}
