package audit

import (
	"context"
	"errors"
	"testing"
)

func TestService_AppendRequiresTenantAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeCampaignLifecycle}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_LogCampaign(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	actor := Actor{TenantID: "t", UserID: "u", Role: "supervisor", IP: "1.2.3.4"}

	if err := svc.LogCampaign(context.Background(), actor, EventTypeCampaignLifecycle, "camp", "stop", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].CampaignID != "camp" {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_LogHangupRecordsFailure(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	actor := Actor{TenantID: "t", UserID: "u", Role: "owner"}

	if err := svc.LogHangup(context.Background(), actor, "PJSIP/carrier-00000001", errors.New("No such channel")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ev := repo.Events()[0]
	if ev.Type != EventTypeChannelHangup || ev.Channel != "PJSIP/carrier-00000001" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Message != "hangup failed: No such channel" {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}
