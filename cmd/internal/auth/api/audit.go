package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leaderlite/cmd/internal/ids"
)

// Auditor records auth events in the audit_log table. Writes are
// best-effort: a failed insert is logged and never fails the request.
// A nil Auditor or nil pool degrades to log-only.
type Auditor struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	schema string
}

var auditIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewAuditor constructs an Auditor writing to the given schema
// ("leaderlite" by default).
func NewAuditor(log *slog.Logger, pool *pgxpool.Pool, schema string) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	if schema == "" || !auditIdentRe.MatchString(schema) {
		schema = "leaderlite"
	}
	return &Auditor{log: log, pool: pool, schema: schema}
}

// Record writes one audit row. memberID may be empty for anonymous events.
func (a *Auditor) Record(ctx context.Context, event, memberID string, ip net.IP, userAgent string, meta map[string]any) {
	if a == nil {
		return
	}

	attrs := []any{"event", event}
	if memberID != "" {
		attrs = append(attrs, "member_id", memberID)
	}
	a.log.Info("audit", attrs...)

	if a.pool == nil {
		return
	}

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		a.log.Error("audit.id_failed", "event", event, "err", err)
		return
	}

	metaJSON := []byte("{}")
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = b
		}
	}

	var memberArg any
	if memberID != "" {
		memberArg = memberID
	}
	var ipArg any
	if ip != nil {
		ipArg = ip.String()
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (id, event, member_id, ip, user_agent, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, now())`,
		pgx.Identifier{a.schema, "audit_log"}.Sanitize(),
	)
	if _, err := a.pool.Exec(ctx, sql, id, event, memberArg, ipArg, userAgent, metaJSON); err != nil {
		a.log.Error("audit.insert_failed", "event", event, "err", err)
	}
}
