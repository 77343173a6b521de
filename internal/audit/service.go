package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Actor identifies who performed an audited action.
type Actor struct {
	TenantID string
	UserID   string
	Role     string
	IP       string
}

// Service records operator actions.
//
// Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogCampaign records a campaign lifecycle command such as create, start, pause or stop.
func (s *Service) LogCampaign(ctx context.Context, actor Actor, typ EventType, campaignID, message, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:    actor.TenantID,
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CampaignID:  campaignID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogHangup records an operator-initiated channel hangup and its result.
func (s *Service) LogHangup(ctx context.Context, actor Actor, channel string, hangupErr error) error {
	msg := "hangup requested"
	if hangupErr != nil {
		msg = "hangup failed: " + hangupErr.Error()
	}
	return s.Append(ctx, Event{
		TenantID:    actor.TenantID,
		Type:        EventTypeChannelHangup,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		Channel:     channel,
		Message:     msg,
	})
}
