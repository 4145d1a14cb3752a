package events

// ResetSubject is the NATS request subject a controller answers reset
// requests on.
const ResetSubject = "arena.control.reset"

// Reset reply codes.
const (
	ResetOK             = "ok"
	ResetStateViolation = "state_violation"
	ResetUnavailable    = "unavailable"
	ResetFailed         = "failed"
)

// ResetReply answers a reset request sent on ResetSubject.
type ResetReply struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}
