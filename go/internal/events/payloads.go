package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event payload types shared between the round runner, publishers and the
// gateway.

// EventType names a round event. It is also the last token of the NATS
// subject the event is published on.
type EventType string

const (
	EventTypeRoundStarted           EventType = "RoundStarted"
	EventTypeWarningRaised          EventType = "WarningRaised"
	EventTypeRoundEnded             EventType = "RoundEnded"
	EventTypeCheatingPenaltyApplied EventType = "CheatingPenaltyApplied"
	EventTypeRoundReset             EventType = "RoundReset"
)

// RoundStartedPayload is the payload for a RoundStarted event
type RoundStartedPayload struct {
	RoundID         string    `json:"round_id"`
	StartedAt       time.Time `json:"started_at"`
	RoundTimeMs     int64     `json:"round_time_ms"`
	WarningAtMs     int64     `json:"warning_at_ms"`
	EndsAt          time.Time `json:"ends_at"`
	FieldWidth      int       `json:"field_width"`
	BeaconFrequency int       `json:"beacon_frequency"`
}

// WarningRaisedPayload is the payload for a WarningRaised event
type WarningRaisedPayload struct {
	RoundID     string    `json:"round_id"`
	RaisedAt    time.Time `json:"raised_at"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	RemainingMs int64     `json:"remaining_ms"`
}

// RoundEndedPayload is the payload for a RoundEnded event. Winner is empty
// on a draw.
type RoundEndedPayload struct {
	RoundID   string         `json:"round_id"`
	Winner    string         `json:"winner,omitempty"`
	Draw      bool           `json:"draw"`
	EndedAt   time.Time      `json:"ended_at"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Penalties map[string]int `json:"penalties"`
}

// CheatingPenaltyPayload is the payload for a CheatingPenaltyApplied event
type CheatingPenaltyPayload struct {
	RoundID   string    `json:"round_id"`
	Player    string    `json:"player"`
	Penalty   int       `json:"penalty"`
	Offences  int       `json:"offences"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"applied_at"`
}

// RoundResetPayload is the payload for a RoundReset event
type RoundResetPayload struct {
	RoundID string    `json:"round_id"`
	ResetAt time.Time `json:"reset_at"`
}

// Event is the envelope every publisher and consumer agrees on.
type Event struct {
	ID        uuid.UUID       `json:"eventId"`
	Type      EventType       `json:"eventType"`
	RoundID   uuid.UUID       `json:"roundId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New wraps payload in an envelope with a fresh event ID.
func New(eventType EventType, roundID uuid.UUID, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		RoundID:   roundID,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

// ParsePayload decodes the event payload into the matching payload struct.
func ParsePayload(event Event) (interface{}, error) {
	switch event.Type {
	case EventTypeRoundStarted:
		var payload RoundStartedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeWarningRaised:
		var payload WarningRaisedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundEnded:
		var payload RoundEndedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeCheatingPenaltyApplied:
		var payload CheatingPenaltyPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundReset:
		var payload RoundResetPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
