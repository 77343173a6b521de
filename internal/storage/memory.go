package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"
)

var ErrTenantRequired = errors.New("storage: tenant_id required")

// Memory keeps campaigns, attempts and dispatch failures in process. It backs
// the engine when no database is configured and in tests.
type Memory struct {
	mu        sync.Mutex
	campaigns map[string]campaigns.Campaign
	attempts  map[string]calls.Attempt
	order     []string
	failures  []campaigns.DispatchFailure
}

func NewMemory() *Memory {
	return &Memory{
		campaigns: map[string]campaigns.Campaign{},
		attempts:  map[string]calls.Attempt{},
	}
}

func (m *Memory) SaveCampaign(ctx context.Context, c campaigns.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	return nil
}

// SaveAttempt upserts by attempt ID.
func (m *Memory) SaveAttempt(ctx context.Context, a calls.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.ID]; !ok {
		m.order = append(m.order, a.ID)
	}
	m.attempts[a.ID] = a.Clone()
	return nil
}

func (m *Memory) SaveFailure(ctx context.Context, f campaigns.DispatchFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, f)
	return nil
}

func (m *Memory) Campaign(id string) (campaigns.Campaign, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	return c, ok
}

// ListAttempts returns attempts started within [from, to) in dispatch order.
func (m *Memory) ListAttempts(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]calls.Attempt, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]calls.Attempt, 0)
	for _, id := range m.order {
		a := m.attempts[id]
		if a.TenantID != tenantID || !within(a.StartedAt, from, to) {
			continue
		}
		if campaignID != "" && a.CampaignID != campaignID {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (m *Memory) ListFailures(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]campaigns.DispatchFailure, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]campaigns.DispatchFailure, 0)
	for _, f := range m.failures {
		if f.TenantID != tenantID || !within(f.At, from, to) {
			continue
		}
		if campaignID != "" && f.CampaignID != campaignID {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
