package campaigns

import "time"

// Campaign is an outbound dialing job: a FIFO queue of destinations dialed
// through one trunk under a concurrency bound.
//
// Invariants:
// - Concurrency >= 1.
// - Destinations are digits only; duplicates are dropped within one insertion batch only.
// - Stats never count more outcomes than Total.
type Campaign struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id,omitempty" db:"tenant_id"`

	Name      string `json:"name" db:"name"`
	ScriptRef string `json:"script_ref,omitempty" db:"script_ref"`

	// Trunk is a dial string prefix ("PJSIP/carrier") or template ("PJSIP/%s@carrier").
	Trunk       string `json:"trunk" db:"trunk"`
	DialContext string `json:"dial_context" db:"dial_context"`
	Extension   string `json:"extension" db:"extension"`
	Priority    int    `json:"priority" db:"priority"`
	CallerID    string `json:"caller_id,omitempty" db:"caller_id"`

	Concurrency        int `json:"concurrency" db:"concurrency"`
	CallTimeoutSeconds int `json:"call_timeout_seconds" db:"call_timeout_seconds"`

	Variables map[string]string `json:"variables,omitempty" db:"variables"`

	Status Status `json:"status" db:"status"`
	Stats  Stats  `json:"stats" db:"-"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

func (c Campaign) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

type Status string

const (
	StatusDraft   Status = "draft"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	// StatusStopping means stop was requested and in-flight attempts are still resolving.
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

func (s Status) IsTerminal() bool { return s == StatusStopped || s == StatusCompleted }

// Stats is derived from the campaign's attempts and dispatch failures.
// Answered counts attempts currently in the answered state; once they hang up
// they move to Completed.
type Stats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	InFlight  int `json:"in_flight"`
	Answered  int `json:"answered"`
	Busy      int `json:"busy"`
	NoAnswer  int `json:"noanswer"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// Resolved is answered + busy + noanswer + failed + completed.
func (s Stats) Resolved() int {
	return s.Answered + s.Busy + s.NoAnswer + s.Failed + s.Completed
}

// DispatchFailure is a destination the PBX refused to dial. No call attempt
// exists for it, but it counts toward Failed.
type DispatchFailure struct {
	TenantID    string    `json:"tenant_id,omitempty" db:"tenant_id"`
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	Destination string    `json:"destination" db:"destination"`
	Reason      string    `json:"reason" db:"reason"`
	At          time.Time `json:"at" db:"at"`
}

// CreateRequest is the operator input for a new campaign.
type CreateRequest struct {
	TenantID string `json:"-"`

	Name        string `json:"name" validate:"required,max=120"`
	ScriptRef   string `json:"script_ref" validate:"omitempty,max=255"`
	Trunk       string `json:"trunk" validate:"required,max=255"`
	DialContext string `json:"dial_context" validate:"required,max=80"`
	Extension   string `json:"extension" validate:"omitempty,max=80"`
	Priority    int    `json:"priority" validate:"gte=0"`
	CallerID    string `json:"caller_id" validate:"omitempty,max=80"`

	Concurrency        int `json:"concurrency" validate:"required,min=1,max=1000"`
	CallTimeoutSeconds int `json:"call_timeout_seconds" validate:"gte=0,lte=3600"`

	Variables map[string]string `json:"variables" validate:"omitempty,max=64,dive,keys,required,excludesall==,endkeys"`

	Destinations []string `json:"destinations" validate:"omitempty,dive,required,number,max=20"`
}

type destinationBatch struct {
	Destinations []string `validate:"required,min=1,dive,required,number,max=20"`
}
