package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clubroster/clubroster/internal/club"
)

// GetSettings returns the club settings row.
func (s *Store) GetSettings(ctx context.Context) (club.Settings, error) {
	var (
		settings  club.Settings
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT club_name, COALESCE(default_membership_type_id, ''), updated_at FROM club_settings WHERE id = 1`).
		Scan(&settings.ClubName, &settings.DefaultMembershipTypeID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return club.Settings{}, club.ErrNotFound
	}
	if err != nil {
		return club.Settings{}, err
	}
	settings.UpdatedAt = fromMillis(updatedAt)
	return settings, nil
}

// SaveSettings upserts the club settings row.
func (s *Store) SaveSettings(ctx context.Context, settings club.Settings) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO club_settings (id, club_name, default_membership_type_id, updated_at)
VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET club_name = excluded.club_name,
  default_membership_type_id = excluded.default_membership_type_id, updated_at = excluded.updated_at`,
		settings.ClubName, nullString(settings.DefaultMembershipTypeID), toMillis(settings.UpdatedAt))
	return err
}

// ListTypes returns every membership type ordered by code.
func (s *Store) ListTypes(ctx context.Context) ([]club.MembershipType, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, code, name, description, active, created_at FROM membership_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []club.MembershipType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetType returns one membership type.
func (s *Store) GetType(ctx context.Context, id string) (club.MembershipType, error) {
	t, err := scanType(s.sqlDB.QueryRowContext(ctx, `SELECT id, code, name, description, active, created_at FROM membership_types WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return club.MembershipType{}, club.ErrNotFound
	}
	return t, err
}

// InsertType stores a membership type.
func (s *Store) InsertType(ctx context.Context, t club.MembershipType) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO membership_types (id, code, name, description, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Code, t.Name, t.Description, t.Active, toMillis(t.CreatedAt))
	if isUniqueViolation(err) {
		return club.ErrDuplicateCode
	}
	return err
}

// SetTypeActive toggles a membership type.
func (s *Store) SetTypeActive(ctx context.Context, id string, active bool) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE membership_types SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return club.ErrNotFound
	}
	return nil
}

func scanType(row rowScanner) (club.MembershipType, error) {
	var (
		t         club.MembershipType
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &t.Active, &createdAt); err != nil {
		return club.MembershipType{}, err
	}
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

var _ club.Repository = (*Store)(nil)
