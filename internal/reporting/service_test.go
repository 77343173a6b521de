package reporting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"
	"telecom-dialer/internal/reporting"
	"telecom-dialer/internal/storage"
)

var now = time.Unix(1700000000, 0).UTC()

func window() reporting.TimeRange {
	return reporting.TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
}

func answeredAt(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func seed(t *testing.T) *storage.Memory {
	t.Helper()
	repo := storage.NewMemory()
	ctx := context.Background()
	rows := []calls.Attempt{
		{ID: "a1", TenantID: "w1", CampaignID: "camp", Status: calls.StatusCompleted, StartedAt: now, AnsweredAt: answeredAt(time.Second), DurationSeconds: 30, Signal: "1", HangupCause: "NORMAL_CLEARING"},
		{ID: "a2", TenantID: "w1", CampaignID: "camp", Status: calls.StatusCompleted, StartedAt: now, AnsweredAt: answeredAt(time.Second), DurationSeconds: 60, Signal: "29"},
		{ID: "a3", TenantID: "w1", CampaignID: "camp", Status: calls.StatusBusy, StartedAt: now, HangupCause: "USER_BUSY"},
		{ID: "a4", TenantID: "w1", CampaignID: "camp", Status: calls.StatusRinging, StartedAt: now},
		{ID: "a5", TenantID: "w2", CampaignID: "camp", Status: calls.StatusCompleted, StartedAt: now, DurationSeconds: 50},
	}
	for _, a := range rows {
		if err := repo.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_ = repo.SaveFailure(ctx, campaigns.DispatchFailure{TenantID: "w1", CampaignID: "camp", Destination: "1", At: now})
	return repo
}

func TestReporting_TenantIsolation(t *testing.T) {
	svc := reporting.NewService(seed(t))

	out, err := svc.CallsSummary(context.Background(), reporting.CallsSummaryRequest{TenantID: "w2", Range: window()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	svc := reporting.NewService(seed(t))

	out, err := svc.CallsSummary(context.Background(), reporting.CallsSummaryRequest{TenantID: "w1", Range: window(), CampaignID: "camp"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.CompletedCalls != 2 || out.BusyCalls != 1 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.FailedCalls != 1 || out.DispatchFailures != 1 {
		t.Fatalf("dispatch failures should count as failed: %+v", out)
	}
	if out.TotalTalkSeconds != 90 || out.AverageTalkSeconds != 45 {
		t.Fatalf("unexpected talk time: %+v", out)
	}
	// 2 answered out of 3 resolved calls + 1 dispatch failure.
	if out.AnswerSeizureRatio != 0.5 {
		t.Fatalf("expected ASR 0.5, got %v", out.AnswerSeizureRatio)
	}
	if out.HangupCauses["USER_BUSY"] != 1 {
		t.Fatalf("expected hangup causes, got %v", out.HangupCauses)
	}
}

func TestReporting_ResponseMetrics(t *testing.T) {
	svc := reporting.NewService(seed(t))

	m, err := svc.ResponseMetrics(context.Background(), reporting.ResponseMetricsRequest{TenantID: "w1", CampaignID: "camp", Range: window()})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.CallsAttempted != 4 || m.CallsConnected != 2 || m.Responses != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.ResponseRate != 1 || m.ConnectionRate != 0.5 {
		t.Fatalf("unexpected rates: %+v", m)
	}
	if m.FirstDigits["1"] != 1 || m.FirstDigits["2"] != 1 {
		t.Fatalf("unexpected digits: %v", m.FirstDigits)
	}
}

func TestReporting_RejectsInvalidRequests(t *testing.T) {
	svc := reporting.NewService(seed(t))
	ctx := context.Background()

	if _, err := svc.CallsSummary(ctx, reporting.CallsSummaryRequest{Range: window()}); !errors.Is(err, reporting.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	bad := reporting.TimeRange{From: now, To: now}
	if _, err := svc.CallsSummary(ctx, reporting.CallsSummaryRequest{TenantID: "w1", Range: bad}); !errors.Is(err, reporting.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.ResponseMetrics(ctx, reporting.ResponseMetricsRequest{TenantID: "w1", Range: window()}); !errors.Is(err, reporting.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
