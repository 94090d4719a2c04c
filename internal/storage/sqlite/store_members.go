package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/members"
)

const memberColumns = `id, number, first_name, last_name, COALESCE(email, ''), COALESCE(household_id, ''),
  initial_status, current_status, timeline_version, created_at, updated_at`

// InsertMember stores a new member row.
func (s *Store) InsertMember(ctx context.Context, m members.Member) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO members
  (id, number, first_name, last_name, email, household_id, initial_status, current_status, timeline_version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Number, m.FirstName, m.LastName, nullString(m.Email), nullString(m.HouseholdID),
		string(m.InitialStatus), string(m.CurrentStatus), m.TimelineVersion, toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	if isUniqueViolation(err) {
		return members.ErrDuplicateNumber
	}
	return err
}

// GetMember returns one member.
func (s *Store) GetMember(ctx context.Context, id string) (members.Member, error) {
	m, err := scanMember(s.sqlDB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return members.Member{}, members.ErrNotFound
	}
	return m, err
}

// ListMembers returns a filtered page of members and the total match count.
func (s *Store) ListMembers(ctx context.Context, filters members.ListFilters, limit, offset int) ([]members.Member, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filters.Status != "" {
		clauses = append(clauses, "current_status = ?")
		args = append(args, string(filters.Status))
	}
	if filters.HouseholdID != "" {
		clauses = append(clauses, "household_id = ?")
		args = append(args, filters.HouseholdID)
	}
	if filters.Query != "" {
		like := "%" + filters.Query + "%"
		clauses = append(clauses, "(first_name LIKE ? OR last_name LIKE ? OR number LIKE ?)")
		args = append(args, like, like, like)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+memberColumns+` FROM members`+where+
		` ORDER BY last_name, first_name, id LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectMembers(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SetHousehold links or unlinks a member's household.
func (s *Store) SetHousehold(ctx context.Context, memberID, householdID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE members SET household_id = ?, updated_at = ? WHERE id = ?`,
		nullString(householdID), toMillis(s.now()), memberID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return members.ErrNotFound
	}
	return nil
}

// InsertHousehold stores a household.
func (s *Store) InsertHousehold(ctx context.Context, h members.Household) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO households (id, name, created_at) VALUES (?, ?, ?)`, h.ID, h.Name, toMillis(h.CreatedAt))
	return err
}

// GetHousehold returns one household.
func (s *Store) GetHousehold(ctx context.Context, id string) (members.Household, error) {
	var (
		h         members.Household
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, name, created_at FROM households WHERE id = ?`, id).Scan(&h.ID, &h.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return members.Household{}, members.ErrNotFound
	}
	if err != nil {
		return members.Household{}, err
	}
	h.CreatedAt = fromMillis(createdAt)
	return h, nil
}

// ListHouseholdMembers lists members of a household.
func (s *Store) ListHouseholdMembers(ctx context.Context, householdID string) ([]members.Member, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+memberColumns+` FROM members WHERE household_id = ? ORDER BY last_name, first_name, id`, householdID)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (members.Member, error) {
	var (
		m                    members.Member
		initial, current     string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&m.ID, &m.Number, &m.FirstName, &m.LastName, &m.Email, &m.HouseholdID,
		&initial, &current, &m.TimelineVersion, &createdAt, &updatedAt); err != nil {
		return members.Member{}, err
	}
	m.InitialStatus = lifecycle.Status(initial)
	m.CurrentStatus = lifecycle.Status(current)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}

func collectMembers(rows *sql.Rows) ([]members.Member, error) {
	defer rows.Close()
	var out []members.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ members.Repository = (*Store)(nil)
