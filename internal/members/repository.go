package members

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/platform/db"
)

// PostgresRepository persists members in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const memberColumns = `id, number, first_name, last_name, COALESCE(email, ''), COALESCE(household_id, ''),
  initial_status, current_status, timeline_version, created_at, updated_at`

func (r *PostgresRepository) InsertMember(ctx context.Context, m Member) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO members
  (id, number, first_name, last_name, email, household_id, initial_status, current_status, timeline_version, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11)`,
		m.ID, m.Number, m.FirstName, m.LastName, m.Email, m.HouseholdID,
		string(m.InitialStatus), string(m.CurrentStatus), m.TimelineVersion, m.CreatedAt, m.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	return err
}

func (r *PostgresRepository) GetMember(ctx context.Context, id string) (Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	if err != nil {
		return Member{}, err
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMember)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	return m, err
}

func (r *PostgresRepository) ListMembers(ctx context.Context, filters ListFilters, limit, offset int) ([]Member, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		clauses = append(clauses, fmt.Sprintf("current_status = $%d", len(args)))
	}
	if filters.HouseholdID != "" {
		args = append(args, filters.HouseholdID)
		clauses = append(clauses, fmt.Sprintf("household_id = $%d", len(args)))
	}
	if filters.Query != "" {
		args = append(args, "%"+filters.Query+"%")
		clauses = append(clauses, fmt.Sprintf("(first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d OR number ILIKE $%[1]d)", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM members%s ORDER BY last_name, first_name, id LIMIT $%d OFFSET $%d`,
		memberColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := pgx.CollectRows(rows, scanMember)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PostgresRepository) SetHousehold(ctx context.Context, memberID, householdID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE members SET household_id = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`, memberID, householdID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertHousehold(ctx context.Context, h Household) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO households (id, name, created_at) VALUES ($1, $2, $3)`, h.ID, h.Name, h.CreatedAt)
	return err
}

func (r *PostgresRepository) GetHousehold(ctx context.Context, id string) (Household, error) {
	var h Household
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM households WHERE id = $1`, id).Scan(&h.ID, &h.Name, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Household{}, ErrNotFound
	}
	return h, err
}

func (r *PostgresRepository) ListHouseholdMembers(ctx context.Context, householdID string) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE household_id = $1 ORDER BY last_name, first_name, id`, householdID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMember)
}

func scanMember(row pgx.CollectableRow) (Member, error) {
	var (
		m                Member
		initial, current string
	)
	err := row.Scan(&m.ID, &m.Number, &m.FirstName, &m.LastName, &m.Email, &m.HouseholdID,
		&initial, &current, &m.TimelineVersion, &m.CreatedAt, &m.UpdatedAt)
	m.InitialStatus = lifecycle.Status(initial)
	m.CurrentStatus = lifecycle.Status(current)
	return m, err
}
