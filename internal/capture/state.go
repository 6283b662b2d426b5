package capture

import (
	"time"

	"github.com/raphaelgruber/hairscan/internal/gate"
)

// State is a capture session state.
type State int

const (
	Idle State = iota
	Submitting
	Evaluating
	Accepted
	Rejected
	Committing
	Done
	Closed
)

var stateNames = [...]string{
	Idle:       "idle",
	Submitting: "submitting",
	Evaluating: "evaluating",
	Accepted:   "accepted",
	Rejected:   "rejected",
	Committing: "committing",
	Done:       "done",
	Closed:     "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Done || s == Closed
}

// VerdictState is the outcome of one attempt.
type VerdictState string

const (
	VerdictPending  VerdictState = "pending-verdict"
	VerdictAccepted VerdictState = "accepted"
	VerdictRejected VerdictState = "rejected"
)

// Attempt is one captured frame and its verdict. It lives only for one
// round trip.
type Attempt struct {
	Seq      int
	Frame    string
	Verdict  VerdictState
	Metrics  map[string]any
	Err      error
	At       time.Time
	Duration time.Duration
}

// EventKind classifies session events.
type EventKind string

const (
	EventState        EventKind = "state"
	EventSample       EventKind = "sample"
	EventAttempt      EventKind = "attempt"
	EventCommitFailed EventKind = "commit_failed"
	EventDone         EventKind = "done"
)

// Event is published to the session observer. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    EventKind
	Step    int
	State   State
	Attempt *Attempt
	Sample  *gate.Sample
	InRange bool
	Ref     string
	Err     error
	At      time.Time
}

// Observer receives session events on the session's run loop goroutine.
// It must not block.
type Observer func(Event)
