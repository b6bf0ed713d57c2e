package sync

import (
	"time"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventPassStarted  EventType = "pass_started"
	EventPassFinished EventType = "pass_finished"
	EventRecord       EventType = "record"
)

// State is the sync state of one record within a pass.
type State string

const (
	StatePending     State = "pending"
	StatePulling     State = "pulling"
	StatePushing     State = "pushing"
	StateReconciling State = "reconciling"
	StateSettled     State = "settled"
	StateFailed      State = "failed"
	StateRejected    State = "rejected"
)

// Event is delivered to observers as a pass progresses.
type Event struct {
	Type   EventType `json:"type"`
	Kind   string    `json:"kind"`
	Key    string    `json:"key,omitempty"`
	State  State     `json:"state,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Report *Report   `json:"report,omitempty"`
	Time   time.Time `json:"time"`
}

// Observer receives coordinator events. It runs on the pass goroutine and
// must not block.
type Observer func(Event)

// Report summarizes one pass.
type Report struct {
	Kind     string    `json:"kind"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Inbound
	Pulled   int `json:"pulled"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Kept     int `json:"kept"`
	Invalid  int `json:"invalid"`

	// Outbound
	Pushed   int `json:"pushed"`
	Removed  int `json:"removed"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`

	// Err is why the pass stopped early, nil if it ran to completion.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Duration returns how long the pass took.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// OK reports whether the pass ran to completion.
func (r *Report) OK() bool {
	return r.Err == nil
}
