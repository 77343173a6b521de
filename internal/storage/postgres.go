package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaigns"
)

// NOTE: Postgres assumes Schema has been applied (see Migrate).
// Attempts are upserted on every reported change, so call_attempts always
// holds the latest known state of each call.

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) SaveCampaign(ctx context.Context, c campaigns.Campaign) error {
	vars, err := marshalMap(c.Variables)
	if err != nil {
		return err
	}
	stats, err := json.Marshal(c.Stats)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO campaigns (
  id, tenant_id, name, script_ref, trunk, dial_context, extension, priority, caller_id,
  concurrency, call_timeout_seconds, variables, status, stats, created_at, updated_at, started_at, finished_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  stats = EXCLUDED.stats,
  updated_at = EXCLUDED.updated_at,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at
`
	_, err = p.db.ExecContext(ctx, q,
		c.ID,
		c.TenantID,
		c.Name,
		c.ScriptRef,
		c.Trunk,
		c.DialContext,
		c.Extension,
		c.Priority,
		c.CallerID,
		c.Concurrency,
		c.CallTimeoutSeconds,
		vars,
		string(c.Status),
		stats,
		c.CreatedAt,
		c.UpdatedAt,
		c.StartedAt,
		c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save campaign: %w", err)
	}
	return nil
}

func (p *Postgres) SaveAttempt(ctx context.Context, a calls.Attempt) error {
	vars, err := marshalMap(a.Variables)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_attempts (
  id, tenant_id, campaign_id, destination, action_id, unique_id, channel, status,
  started_at, answered_at, ended_at, duration_seconds, signal, hangup_cause, hangup_cause_code,
  connection_lost, last_event_at, variables
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (id) DO UPDATE SET
  unique_id = EXCLUDED.unique_id,
  channel = EXCLUDED.channel,
  status = EXCLUDED.status,
  answered_at = EXCLUDED.answered_at,
  ended_at = EXCLUDED.ended_at,
  duration_seconds = EXCLUDED.duration_seconds,
  signal = EXCLUDED.signal,
  hangup_cause = EXCLUDED.hangup_cause,
  hangup_cause_code = EXCLUDED.hangup_cause_code,
  connection_lost = EXCLUDED.connection_lost,
  last_event_at = EXCLUDED.last_event_at
`
	_, err = p.db.ExecContext(ctx, q,
		a.ID,
		a.TenantID,
		a.CampaignID,
		a.Destination,
		a.ActionID,
		a.UniqueID,
		a.Channel,
		string(a.Status),
		a.StartedAt,
		a.AnsweredAt,
		a.EndedAt,
		a.DurationSeconds,
		a.Signal,
		a.HangupCause,
		a.HangupCauseCode,
		a.ConnectionLost,
		a.LastEventAt,
		vars,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (p *Postgres) SaveFailure(ctx context.Context, f campaigns.DispatchFailure) error {
	const q = `
INSERT INTO dispatch_failures (tenant_id, campaign_id, destination, reason, at)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := p.db.ExecContext(ctx, q, f.TenantID, f.CampaignID, f.Destination, f.Reason, f.At); err != nil {
		return fmt.Errorf("save dispatch failure: %w", err)
	}
	return nil
}

func (p *Postgres) ListAttempts(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]calls.Attempt, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	const q = `
SELECT id, tenant_id, campaign_id, destination, action_id, unique_id, channel, status,
  started_at, answered_at, ended_at, duration_seconds, signal, hangup_cause, hangup_cause_code,
  connection_lost, last_event_at, variables
FROM call_attempts
WHERE tenant_id = $1 AND started_at >= $2 AND started_at < $3 AND ($4 = '' OR campaign_id = $4)
ORDER BY started_at, id
`
	rows, err := p.db.QueryContext(ctx, q, tenantID, from, to, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]calls.Attempt, 0)
	for rows.Next() {
		var (
			a      calls.Attempt
			status string
			vars   []byte
		)
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.CampaignID,
			&a.Destination,
			&a.ActionID,
			&a.UniqueID,
			&a.Channel,
			&status,
			&a.StartedAt,
			&a.AnsweredAt,
			&a.EndedAt,
			&a.DurationSeconds,
			&a.Signal,
			&a.HangupCause,
			&a.HangupCauseCode,
			&a.ConnectionLost,
			&a.LastEventAt,
			&vars,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = calls.Status(status)
		if a.Variables, err = unmarshalMap(vars); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListFailures(ctx context.Context, tenantID string, from, to time.Time, campaignID string) ([]campaigns.DispatchFailure, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	const q = `
SELECT tenant_id, campaign_id, destination, reason, at
FROM dispatch_failures
WHERE tenant_id = $1 AND at >= $2 AND at < $3 AND ($4 = '' OR campaign_id = $4)
ORDER BY at, id
`
	rows, err := p.db.QueryContext(ctx, q, tenantID, from, to, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch failures: %w", err)
	}
	defer rows.Close()

	out := make([]campaigns.DispatchFailure, 0)
	for rows.Next() {
		var f campaigns.DispatchFailure
		if err := rows.Scan(&f.TenantID, &f.CampaignID, &f.Destination, &f.Reason, &f.At); err != nil {
			return nil, fmt.Errorf("scan dispatch failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Append implements audit.Repository. Rows are insert-only.
func (p *Postgres) Append(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (
  id, tenant_id, type, actor_user_id, actor_role, ip_address, campaign_id, channel, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := p.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.CampaignID,
		e.Channel,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
