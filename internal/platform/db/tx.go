package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the application reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
)

// ErrSerialization marks a transaction aborted because a concurrent one won.
var ErrSerialization = errors.New("platform/db: serialization failure")

// WithTx runs fn in a RepeatableRead transaction. fn's error rolls back; otherwise the
// transaction commits. Serialization failures come back wrapped in ErrSerialization.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
	if HasSQLState(err, CodeSerializationFailure) {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return err
}

// HasSQLState reports whether err wraps a PostgreSQL error with the given code.
func HasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return HasSQLState(err, CodeUniqueViolation)
}
