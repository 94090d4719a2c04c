package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of the append-only audit trail. ActorID may be empty for
// system changes; At defaults to the database clock.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate requires the action and the entity it touched.
func (l AuditLog) Validate() error {
	switch {
	case l.Action == "":
		return fmt.Errorf("%w: action", ErrInvalidAudit)
	case l.Entity == "", l.EntityID == "":
		return fmt.Errorf("%w: entity", ErrInvalidAudit)
	}
	return nil
}

// AuditLogger appends AuditLog rows to PostgreSQL.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const insertAudit = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES (NULLIF(@actor, ''), @action, @entity, @entity_id, @meta, COALESCE(@at, NOW()))`

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	args, err := entry.namedArgs()
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, insertAudit, args)
	return err
}

func (l AuditLog) namedArgs() (pgx.NamedArgs, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	meta, err := json.Marshal(l.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal audit meta: %w", err)
	}
	args := pgx.NamedArgs{
		"actor":     l.ActorID,
		"action":    l.Action,
		"entity":    l.Entity,
		"entity_id": l.EntityID,
		"meta":      meta,
		"at":        nil,
	}
	if !l.At.IsZero() {
		args["at"] = l.At.UTC()
	}
	return args, nil
}
