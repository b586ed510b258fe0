package authapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog records authentication events. With a nil pool it degrades to
// structured logging only, so the memory-store mode keeps an audit trail
// in the process logs.
type AuditLog struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	schema string
}

// NewAuditLog constructs an AuditLog. pool may be nil.
func NewAuditLog(log *slog.Logger, pool *pgxpool.Pool, schema string) *AuditLog {
	if log == nil {
		log = slog.Default()
	}
	if schema == "" {
		schema = "till"
	}
	return &AuditLog{log: log, pool: pool, schema: schema}
}

// Record writes one audit event. Failures are logged, never propagated;
// auditing must not fail the authentication operation itself.
func (a *AuditLog) Record(ctx context.Context, op, userID, ip, userAgent, outcome string) {
	if a == nil {
		return
	}

	a.log.Info("auth.audit",
		"op", op,
		"user_id", userID,
		"ip", ip,
		"outcome", outcome,
	)

	if a.pool == nil {
		return
	}

	table := pgx.Identifier{a.schema, "audit_log"}.Sanitize()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+table+` (op, user_id, ip, user_agent, outcome, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6)`,
		op, userID, ip, userAgent, outcome, time.Now().UTC(),
	)
	if err != nil {
		a.log.Warn("auth.audit.write_failed", "op", op, "err", err)
	}
}
