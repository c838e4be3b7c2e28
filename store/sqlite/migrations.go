package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the reconcile store (SQLite).
var Migrations = migrate.NewGroup("reconcile")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_reconcile_events",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reconcile_events (
    id           TEXT PRIMARY KEY,
    dedupe_key   TEXT NOT NULL,
    workspace_id TEXT NOT NULL DEFAULT '',
    actor_email  TEXT NOT NULL DEFAULT '',
    event_type   TEXT NOT NULL DEFAULT '',
    object_id    TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'received',
    meta         TEXT NOT NULL DEFAULT '{}',
    outcome      TEXT,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reconcile_events_dedupe ON reconcile_events (dedupe_key);
CREATE INDEX IF NOT EXISTS idx_reconcile_events_workspace ON reconcile_events (workspace_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reconcile_events_type ON reconcile_events (event_type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS reconcile_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_reconcile_billing_records",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reconcile_billing_records (
    workspace_id             TEXT PRIMARY KEY,
    plan                     TEXT NOT NULL DEFAULT 'free',
    billing_interval         TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL DEFAULT '',
    provider_customer_id     TEXT NOT NULL DEFAULT '',
    provider_subscription_id TEXT NOT NULL DEFAULT '',
    created_at               TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reconcile_billing_customer ON reconcile_billing_records (provider_customer_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS reconcile_billing_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_reconcile_plan_mirrors",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reconcile_plan_mirrors (
    mirror_key   TEXT PRIMARY KEY,
    target       TEXT NOT NULL DEFAULT '',
    workspace_id TEXT NOT NULL DEFAULT '',
    plan         TEXT NOT NULL DEFAULT 'free',
    status       TEXT NOT NULL DEFAULT '',
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reconcile_mirrors_workspace ON reconcile_plan_mirrors (workspace_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS reconcile_plan_mirrors`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_reconcile_workspaces",
			Version: "20240101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reconcile_workspaces (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    owner_user_id TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reconcile_workspaces_owner ON reconcile_workspaces (owner_user_id);

CREATE TABLE IF NOT EXISTS reconcile_users (
    id                  TEXT PRIMARY KEY,
    email               TEXT NOT NULL DEFAULT '',
    active_workspace_id TEXT NOT NULL DEFAULT '',
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS reconcile_users;
DROP TABLE IF EXISTS reconcile_workspaces;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_reconcile_dunning_states",
			Version: "20240101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS reconcile_dunning_states (
    workspace_id           TEXT PRIMARY KEY,
    recovery_required      INTEGER NOT NULL DEFAULT 0,
    last_status            TEXT NOT NULL DEFAULT '',
    banner_dismissed_at    TEXT,
    last_recovery_email_at TEXT,
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS reconcile_dunning_states`)
				return err
			},
		},
	)
}
