package fdc3

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// AuditLog is an append-only Postgres-backed record of handshake and
// intent-raise events. It is an operational log, not FDC3 state — the
// Non-goal against persisting state across page reloads (spec.md §1)
// binds channel/context/listener state, not this kind of observability
// trail. Grounded on the teacher's examples/postgres-agent, which opens
// the same database/sql + lib/pq combination directly in application
// code rather than behind an SDK abstraction.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog opens dsn and ensures the backing table exists.
func NewAuditLog(ctx context.Context, dsn string) (*AuditLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS fdc3_audit_log (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	kind TEXT NOT NULL,
	app_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	return &AuditLog{db: db}, nil
}

func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

func (a *AuditLog) record(ctx context.Context, kind string, who AppIdentifier, detail string) {
	if a == nil {
		return
	}
	const stmt = `INSERT INTO fdc3_audit_log (kind, app_id, instance_id, detail) VALUES ($1, $2, $3, $4)`
	// Best-effort: a failed audit write must never block message routing.
	_, _ = a.db.ExecContext(ctx, stmt, kind, who.AppID, who.InstanceID, detail)
}

func (a *AuditLog) recordHandshake(who AppIdentifier) {
	a.record(context.Background(), "handshake", who, "")
}

func (a *AuditLog) recordDisconnect(who AppIdentifier) {
	a.record(context.Background(), "disconnect", who, "")
}

func (a *AuditLog) recordIntentRaised(who AppIdentifier, intent string) {
	a.record(context.Background(), "intent-raised", who, intent)
}
