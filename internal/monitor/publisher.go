package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"

	"github.com/redis/go-redis/v9"
)

// Update kinds carried on the live channel.
const (
	KindAttempt  = "attempt"
	KindCampaign = "campaign"
)

// Update is one live change pushed to dashboards.
type Update struct {
	Kind       string              `json:"kind"`
	TenantID   string              `json:"tenant_id"`
	CampaignID string              `json:"campaign_id"`
	Outcome    calls.Outcome       `json:"outcome,omitempty"`
	Attempt    *calls.Attempt      `json:"attempt,omitempty"`
	Campaign   *campaigns.Campaign `json:"campaign,omitempty"`
	At         time.Time           `json:"at"`
}

// Publisher fans campaign and attempt updates out over Redis pub/sub, one
// channel per tenant. It satisfies campaigns.Publisher.
type Publisher struct {
	rdb *redis.Client
	now func() time.Time
}

func NewPublisher(rdb *redis.Client) (*Publisher, error) {
	if rdb == nil {
		return nil, errors.New("monitor: redis client is nil")
	}
	return &Publisher{rdb: rdb, now: time.Now}, nil
}

// Channel is the pub/sub channel carrying a tenant's updates.
func Channel(tenantID string) string {
	if tenantID == "" {
		tenantID = "default"
	}
	return "dialer:updates:" + tenantID
}

func (p *Publisher) PublishAttempt(ctx context.Context, a calls.Attempt) error {
	return p.publish(ctx, Update{
		Kind:       KindAttempt,
		TenantID:   a.TenantID,
		CampaignID: a.CampaignID,
		Outcome:    a.Status.Outcome(),
		Attempt:    &a,
	})
}

func (p *Publisher) PublishCampaign(ctx context.Context, c campaigns.Campaign) error {
	return p.publish(ctx, Update{
		Kind:       KindCampaign,
		TenantID:   c.TenantID,
		CampaignID: c.ID,
		Campaign:   &c,
	})
}

func (p *Publisher) publish(ctx context.Context, u Update) error {
	u.At = p.now().UTC()
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	return p.rdb.Publish(ctx, Channel(u.TenantID), body).Err()
}

// Subscribe streams a tenant's updates until ctx is done. Malformed payloads
// are skipped.
func Subscribe(ctx context.Context, rdb *redis.Client, tenantID string) (<-chan Update, error) {
	ps := rdb.Subscribe(ctx, Channel(tenantID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan Update, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var u Update
				if err := json.Unmarshal([]byte(m.Payload), &u); err != nil {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
