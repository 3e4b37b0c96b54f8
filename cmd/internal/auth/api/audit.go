package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one security-relevant request outcome.
type AuditEntry struct {
	Action    string
	UserID    string
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Auditor records AuditEntry values. Implementations must not block the
// request on failure; errors are logged and dropped.
type Auditor interface {
	Audit(ctx context.Context, e AuditEntry)
}

// LogAuditor writes entries to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Audit(ctx context.Context, e AuditEntry) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, e.Action,
		"user_id", e.UserID,
		"ip", e.IP,
		"user_agent", e.UserAgent,
		"meta", e.Meta,
	)
}

// PostgresAuditor appends entries to <schema>.audit_log.
type PostgresAuditor struct {
	log   *slog.Logger
	pool  *pgxpool.Pool
	table string
}

func NewPostgresAuditor(log *slog.Logger, pool *pgxpool.Pool, schema string) *PostgresAuditor {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(schema) == "" {
		schema = "turnstile"
	}
	return &PostgresAuditor{
		log:   log,
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}
}

func (a *PostgresAuditor) Audit(ctx context.Context, e AuditEntry) {
	if a == nil || a.pool == nil {
		return
	}
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			action, user_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), now())
	`, action, trimOrNil(e.UserID), trimOrNil(e.IP), trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

type multiAuditor []Auditor

func (m multiAuditor) Audit(ctx context.Context, e AuditEntry) {
	for _, a := range m {
		a.Audit(ctx, e)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
