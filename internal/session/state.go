package session

import "time"

// State is a step of the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingRoomStatus
	StateLoggingIn
	StateAwaitingStart
	StateRejected
	StateExchanging
	StateLeaving
	StateClosed
)

var stateNames = [...]string{
	StateConnecting:         "connecting",
	StateAwaitingRoomStatus: "awaiting_room_status",
	StateLoggingIn:          "logging_in",
	StateAwaitingStart:      "awaiting_start",
	StateRejected:           "rejected",
	StateExchanging:         "exchanging",
	StateLeaving:            "leaving",
	StateClosed:             "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Outcome is how a session's Run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // closed its own connection
	OutcomeRejected  Outcome = "rejected"  // room already occupied
	OutcomeFailed    Outcome = "failed"    // could not connect
	OutcomeDropped   Outcome = "dropped"   // event stream ended with nothing pending
	OutcomeCancelled Outcome = "cancelled" // run context cancelled
)

// Result summarises a finished session.
type Result struct {
	SessionID string
	RoomID    int
	Starter   bool
	Outcome   Outcome
	Sent      int
	Received  int
	Remaining int
}

// Transition is a single state change, handed to a Reporter.
type Transition struct {
	SessionID string    `json:"session_id"`
	RoomID    int       `json:"room"`
	User      string    `json:"user"`
	Starter   bool      `json:"starter"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// Reporter receives state transitions. Report is called from the session's
// own goroutine and must not block for long.
type Reporter interface {
	Report(Transition)
}

type nopReporter struct{}

func (nopReporter) Report(Transition) {}
