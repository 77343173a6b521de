package reporting

import (
	"context"
	"errors"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce tenant filtering.
// - Rows are filtered on StartedAt (attempts) or At (failures) within [from, to).

type Repository interface {
	ListAttempts(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]calls.Attempt, error)
	ListFailures(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]campaigns.DispatchFailure, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, req.TenantID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}
	failures, err := s.repo.ListFailures(ctx, req.TenantID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, CampaignID: req.CampaignID, HangupCauses: map[string]int{}}
	out.DispatchFailures = len(failures)
	out.FailedCalls = len(failures)
	talked := 0
	for _, a := range rows {
		out.TotalCalls++
		if a.ConnectionLost {
			out.ConnectionLost++
		}
		if a.AnsweredAt != nil {
			out.AnsweredCalls++
		}
		if a.HangupCause != "" {
			out.HangupCauses[a.HangupCause]++
		}
		switch a.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
			out.TotalTalkSeconds += a.DurationSeconds
			talked++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusQueued, calls.StatusDialing, calls.StatusRinging, calls.StatusAnswered:
			out.InProgressCalls++
		}
	}
	if talked > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / talked
	}
	if seized := out.TotalCalls - out.InProgressCalls + out.DispatchFailures; seized > 0 {
		out.AnswerSeizureRatio = float64(out.AnsweredCalls) / float64(seized)
	}
	if len(out.HangupCauses) == 0 {
		out.HangupCauses = nil
	}
	return out, nil
}

func (s *Service) ResponseMetrics(ctx context.Context, req ResponseMetricsRequest) (ResponseMetrics, error) {
	if req.TenantID == "" || req.CampaignID == "" || !validRange(req.Range) {
		return ResponseMetrics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ResponseMetrics{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListAttempts(ctx, req.TenantID, req.Range.From, req.Range.To, req.CampaignID)
	if err != nil {
		return ResponseMetrics{}, err
	}

	out := ResponseMetrics{TenantID: req.TenantID, CampaignID: req.CampaignID}
	out.CallsAttempted = len(rows)
	for _, a := range rows {
		if a.AnsweredAt != nil {
			out.CallsConnected++
		}
		if a.Signal == "" {
			continue
		}
		out.Responses++
		if out.FirstDigits == nil {
			out.FirstDigits = map[string]int{}
		}
		out.FirstDigits[a.Signal[:1]]++
	}

	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
	}
	if out.CallsConnected > 0 {
		out.ResponseRate = float64(out.Responses) / float64(out.CallsConnected)
	}
	return out, nil
}
