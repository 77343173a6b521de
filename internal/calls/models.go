package calls

import "time"

// Attempt is one outbound call placed on behalf of a campaign.
//
// Invariants:
// - ActionID is set once, at dispatch, and never reused while the attempt is pending.
// - Terminal attempts are immutable; late events are ignored.
// - Variables are a genuine map; the positional wire encoding lives in the dispatcher.
type Attempt struct {
	ID         string `json:"id" db:"id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Destination string `json:"destination" db:"destination"`

	// ActionID correlates the Originate request and its OriginateResponse event.
	ActionID string `json:"action_id" db:"action_id"`
	// UniqueID and Channel identify the PBX channel once known.
	UniqueID string `json:"unique_id,omitempty" db:"unique_id"`
	Channel  string `json:"channel,omitempty" db:"channel"`

	Status Status `json:"status" db:"status"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is talk time (end - answer); zero for unanswered calls.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// Signal holds DTMF digits received from the callee, in order.
	Signal string `json:"signal,omitempty" db:"signal"`

	HangupCause     string `json:"hangup_cause,omitempty" db:"hangup_cause"`
	HangupCauseCode int    `json:"hangup_cause_code,omitempty" db:"hangup_cause_code"`

	// ConnectionLost marks an attempt whose outcome is unknown because the
	// manager connection dropped while it was in flight.
	ConnectionLost bool `json:"connection_lost,omitempty" db:"connection_lost"`

	LastEventAt time.Time `json:"last_event_at" db:"last_event_at"`

	Variables map[string]string `json:"variables,omitempty" db:"variables"`
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusDialing   Status = "dialing"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "noanswer"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
		return true
	}
	return false
}

// Outcome is the code surfaced to analytics and monitoring collaborators.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeDialing   Outcome = "dialing"
	OutcomeAnswered  Outcome = "answered"
	OutcomeBusy      Outcome = "busy"
	OutcomeNoAnswer  Outcome = "noanswer"
	OutcomeFailed    Outcome = "failed"
	OutcomeCompleted Outcome = "completed"
)

func (s Status) Outcome() Outcome {
	switch s {
	case StatusQueued:
		return OutcomePending
	case StatusDialing, StatusRinging:
		return OutcomeDialing
	case StatusAnswered:
		return OutcomeAnswered
	case StatusBusy:
		return OutcomeBusy
	case StatusNoAnswer:
		return OutcomeNoAnswer
	case StatusCompleted:
		return OutcomeCompleted
	default:
		return OutcomeFailed
	}
}

// Clone returns a copy that shares no mutable state with a.
func (a *Attempt) Clone() Attempt {
	out := *a
	if a.AnsweredAt != nil {
		t := *a.AnsweredAt
		out.AnsweredAt = &t
	}
	if a.EndedAt != nil {
		t := *a.EndedAt
		out.EndedAt = &t
	}
	if a.Variables != nil {
		out.Variables = make(map[string]string, len(a.Variables))
		for k, v := range a.Variables {
			out.Variables[k] = v
		}
	}
	return out
}
