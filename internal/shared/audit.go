package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Before    map[string]any
	After     map[string]any
	Meta      map[string]any
	IP        string
	UserAgent string
	At        time.Time
}

// WithRequestMeta copies IP and user agent from the request metadata in ctx.
func (l AuditLog) WithRequestMeta(ctx context.Context) AuditLog {
	meta := RequestMetaFromContext(ctx)
	if l.IP == "" {
		l.IP = meta.IP
	}
	if l.UserAgent == "" {
		l.UserAgent = meta.UserAgent
	}
	if meta.RequestID != "" {
		if l.Meta == nil {
			l.Meta = map[string]any{}
		}
		l.Meta["request_id"] = meta.RequestID
	}
	return l
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	log = log.WithRequestMeta(ctx)
	beforeJSON, err := json.Marshal(log.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(log.After)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, before_values, after_values, meta, ip, user_agent, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, beforeJSON, afterJSON, metaJSON, log.IP, log.UserAgent, at)
	return err
}
