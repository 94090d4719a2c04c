package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubroster/clubroster/internal/platform/db"
)

// IdempotencyStore claims request keys in PostgreSQL. A key is unique per module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

var errKeyRequired = errors.New("idempotency key and module required")

func (s *IdempotencyStore) ready() error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	return nil
}

// CheckAndInsert claims key for module, or returns ErrIdempotencyConflict when it
// was claimed before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == "" || module == "" {
		return errKeyRequired
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now().UTC())
	if db.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

// Delete releases a claim so a failed request can be retried with the same key.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if key == "" || module == "" {
		return errKeyRequired
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND module = $2`, key, module)
	return err
}

// Cleanup removes claims older than olderThan and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-olderThan).UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
