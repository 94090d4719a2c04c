package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clubroster/clubroster/internal/shared"
)

// Record appends an audit row.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	at := log.At
	if at.IsZero() {
		at = s.now()
	}
	_, err = s.sqlDB.ExecContext(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(log.ActorID), log.Action, log.Entity, log.EntityID, string(meta), toMillis(at))
	return err
}

// CheckAndInsert claims an idempotency key for module.
func (s *Store) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" || module == "" {
		return errors.New("idempotency key and module required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES (?, ?, ?)`, key, module, toMillis(s.now()))
	if isUniqueViolation(err) {
		return shared.ErrIdempotencyConflict
	}
	return err
}

// Delete releases an idempotency key so the request may be retried.
func (s *Store) Delete(ctx context.Context, key, module string) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = ? AND module = ?`, key, module)
	return err
}

// Cleanup removes idempotency keys older than retention.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, toMillis(s.now().Add(-olderThan)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
