package storage

import (
	"context"
	"database/sql"

	"telecom-dialer/pkg/utils"
)

// Schema creates the dialer tables. Statements are idempotent.
//
// audit_events is append-only; the application never issues UPDATE or DELETE on it.
const Schema = `
CREATE TABLE IF NOT EXISTS campaigns (
  id                   TEXT PRIMARY KEY,
  tenant_id            TEXT NOT NULL DEFAULT '',
  name                 TEXT NOT NULL,
  script_ref           TEXT NOT NULL DEFAULT '',
  trunk                TEXT NOT NULL,
  dial_context         TEXT NOT NULL,
  extension            TEXT NOT NULL,
  priority             INTEGER NOT NULL,
  caller_id            TEXT NOT NULL DEFAULT '',
  concurrency          INTEGER NOT NULL,
  call_timeout_seconds INTEGER NOT NULL,
  variables            JSONB NOT NULL DEFAULT '{}',
  status               TEXT NOT NULL,
  stats                JSONB NOT NULL DEFAULT '{}',
  created_at           TIMESTAMPTZ NOT NULL,
  updated_at           TIMESTAMPTZ NOT NULL,
  started_at           TIMESTAMPTZ,
  finished_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS call_attempts (
  id                TEXT PRIMARY KEY,
  tenant_id         TEXT NOT NULL DEFAULT '',
  campaign_id       TEXT NOT NULL REFERENCES campaigns(id),
  destination       TEXT NOT NULL,
  action_id         TEXT NOT NULL,
  unique_id         TEXT NOT NULL DEFAULT '',
  channel           TEXT NOT NULL DEFAULT '',
  status            TEXT NOT NULL,
  started_at        TIMESTAMPTZ NOT NULL,
  answered_at       TIMESTAMPTZ,
  ended_at          TIMESTAMPTZ,
  duration_seconds  INTEGER NOT NULL DEFAULT 0,
  signal            TEXT NOT NULL DEFAULT '',
  hangup_cause      TEXT NOT NULL DEFAULT '',
  hangup_cause_code INTEGER NOT NULL DEFAULT 0,
  connection_lost   BOOLEAN NOT NULL DEFAULT FALSE,
  last_event_at     TIMESTAMPTZ NOT NULL,
  variables         JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS call_attempts_tenant_started ON call_attempts (tenant_id, started_at);
CREATE INDEX IF NOT EXISTS call_attempts_campaign ON call_attempts (campaign_id);

CREATE TABLE IF NOT EXISTS dispatch_failures (
  id          BIGSERIAL PRIMARY KEY,
  tenant_id   TEXT NOT NULL DEFAULT '',
  campaign_id TEXT NOT NULL REFERENCES campaigns(id),
  destination TEXT NOT NULL,
  reason      TEXT NOT NULL,
  at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS dispatch_failures_tenant_at ON dispatch_failures (tenant_id, at);

CREATE TABLE IF NOT EXISTS audit_events (
  id            TEXT PRIMARY KEY,
  tenant_id     TEXT NOT NULL,
  type          TEXT NOT NULL,
  actor_user_id TEXT NOT NULL DEFAULT '',
  actor_role    TEXT NOT NULL DEFAULT '',
  ip_address    TEXT NOT NULL DEFAULT '',
  campaign_id   TEXT NOT NULL DEFAULT '',
  channel       TEXT NOT NULL DEFAULT '',
  message       TEXT NOT NULL DEFAULT '',
  metadata      TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL
);
`

// Migrate applies Schema in one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, Schema)
		return err
	})
}
