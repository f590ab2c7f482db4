package submission

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle position of a submission controller.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusFailed
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the controller's current lifecycle value. Message is only set for
// StatusFailed and carries the submitter's error text verbatim.
type State struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Idle is the initial state of every controller.
func Idle() State { return State{Status: StatusIdle} }

// Failed builds a failure state carrying msg.
func Failed(msg string) State { return State{Status: StatusFailed, Message: msg} }

// Pending reports whether a submission is in flight.
func (s State) Pending() bool { return s.Status == StatusPending }

// Submittable reports whether a new submission may start from this state.
func (s State) Submittable() bool {
	return s.Status == StatusIdle || s.Status == StatusFailed
}

func (s State) String() string {
	if s.Status == StatusFailed && s.Message != "" {
		data, _ := json.Marshal(s.Message)
		return "failed(" + string(data) + ")"
	}
	return s.Status.String()
}

// Outcome classifies the result of a Submit call.
type Outcome string

const (
	// OutcomeRejected means the call was ignored because admission failed.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCompleted means the payment succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the payment was rejected by the submitter.
	OutcomeFailed Outcome = "failed"
)

// Result is returned by Submit in place of raised errors so callers can react
// to every outcome through the same value.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StatusIdle
	case "pending":
		*s = StatusPending
	case "failed":
		*s = StatusFailed
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("submission: unknown status %q", string(text))
	}
	return nil
}
