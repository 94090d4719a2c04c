package club

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubroster/clubroster/internal/platform/db"
)

// PostgresRepository persists club configuration in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `SELECT club_name, COALESCE(default_membership_type_id, ''), updated_at FROM club_settings WHERE id = 1`).
		Scan(&s.ClubName, &s.DefaultMembershipTypeID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) SaveSettings(ctx context.Context, s Settings) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO club_settings (id, club_name, default_membership_type_id, updated_at)
VALUES (1, $1, NULLIF($2, ''), $3)
ON CONFLICT (id) DO UPDATE SET club_name = EXCLUDED.club_name,
  default_membership_type_id = EXCLUDED.default_membership_type_id, updated_at = EXCLUDED.updated_at`,
		s.ClubName, s.DefaultMembershipTypeID, s.UpdatedAt)
	return err
}

func (r *PostgresRepository) ListTypes(ctx context.Context) ([]MembershipType, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, description, active, created_at FROM membership_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MembershipType, error) {
		var t MembershipType
		err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.Active, &t.CreatedAt)
		return t, err
	})
}

func (r *PostgresRepository) GetType(ctx context.Context, id string) (MembershipType, error) {
	var t MembershipType
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, description, active, created_at FROM membership_types WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MembershipType{}, ErrNotFound
	}
	return t, err
}

func (r *PostgresRepository) InsertType(ctx context.Context, t MembershipType) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO membership_types (id, code, name, description, active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Code, t.Name, t.Description, t.Active, t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (r *PostgresRepository) SetTypeActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE membership_types SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
