package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasSQLStateUnwraps(t *testing.T) {
	err := fmt.Errorf("insert key: %w", &pgconn.PgError{Code: CodeUniqueViolation})
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, HasSQLState(err, CodeSerializationFailure))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestWithTxRequiresPool(t *testing.T) {
	err := WithTx(context.Background(), nil, func(pgx.Tx) error { return nil })
	require.Error(t, err)
}

func TestPoolOptionsApply(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/clubroster")
	require.NoError(t, err)

	PoolOptions{MaxConns: 8, MinConns: 2, MaxConnIdleTime: time.Minute}.apply(cfg)
	assert.EqualValues(t, 8, cfg.MaxConns)
	assert.EqualValues(t, 2, cfg.MinConns)
	assert.Equal(t, time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, "clubroster", cfg.ConnConfig.RuntimeParams["application_name"])

	cfg, err = pgxpool.ParseConfig("postgres://u:p@localhost:5432/clubroster?application_name=ops")
	require.NoError(t, err)
	PoolOptions{MinConns: 5000}.apply(cfg)
	assert.Equal(t, "ops", cfg.ConnConfig.RuntimeParams["application_name"])
	assert.NotEqualValues(t, 5000, cfg.MinConns)
}
