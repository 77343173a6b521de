package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.

type CallsSummaryRequest struct {
	TenantID   string    `json:"tenant_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	AnsweredCalls   int `json:"answered_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	// DispatchFailures are destinations the PBX refused; they count as failed
	// but never became calls.
	DispatchFailures int `json:"dispatch_failures"`
	ConnectionLost   int `json:"connection_lost"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`

	// AnswerSeizureRatio is answered / (resolved calls + dispatch failures).
	AnswerSeizureRatio float64 `json:"answer_seizure_ratio"`

	HangupCauses map[string]int `json:"hangup_causes,omitempty"`
}

// ResponseMetricsRequest captures keypad response metrics for a campaign.

type ResponseMetricsRequest struct {
	TenantID   string    `json:"tenant_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id"`
}

// ResponseMetrics counts answered calls where the callee keyed a response.
type ResponseMetrics struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`
	Responses      int `json:"responses"`

	ConnectionRate float64 `json:"connection_rate"`
	ResponseRate   float64 `json:"response_rate"`

	// FirstDigits counts the first digit of each captured response.
	FirstDigits map[string]int `json:"first_digits,omitempty"`
}
