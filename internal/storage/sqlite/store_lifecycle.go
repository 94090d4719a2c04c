package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clubroster/clubroster/internal/lifecycle"
)

// WithMemberLock runs fn inside an immediate transaction. SQLite admits one writer at a
// time, which serialises commits for every member including this one.
func (s *Store) WithMemberLock(ctx context.Context, memberID string, fn func(context.Context, lifecycle.TxRepository) error) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &lifecycleTx{tx: tx, now: s.now})
	})
}

// LoadMember returns the lifecycle slice of the member row.
func (s *Store) LoadMember(ctx context.Context, memberID string) (lifecycle.MemberState, error) {
	return loadMemberState(ctx, s.sqlDB, memberID)
}

// LoadTransitions returns the member's transitions in log order.
func (s *Store) LoadTransitions(ctx context.Context, memberID string) ([]lifecycle.Transition, error) {
	return loadTransitions(ctx, s.sqlDB, memberID)
}

// LoadPeriods returns the member's periods ordered by join date.
func (s *Store) LoadPeriods(ctx context.Context, memberID string) ([]lifecycle.Period, error) {
	return loadPeriods(ctx, s.sqlDB, memberID)
}

// MembersWithTransitionsBetween lists members with transitions effective in [from, to].
func (s *Store) MembersWithTransitionsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT member_id FROM member_status_transitions
WHERE effective_date BETWEEN ? AND ? ORDER BY member_id`, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type lifecycleTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *lifecycleTx) LoadMember(ctx context.Context, memberID string) (lifecycle.MemberState, error) {
	return loadMemberState(ctx, t.tx, memberID)
}

func (t *lifecycleTx) LoadTransitions(ctx context.Context, memberID string) ([]lifecycle.Transition, error) {
	return loadTransitions(ctx, t.tx, memberID)
}

func (t *lifecycleTx) LoadPeriods(ctx context.Context, memberID string) ([]lifecycle.Period, error) {
	return loadPeriods(ctx, t.tx, memberID)
}

func (t *lifecycleTx) SaveTransitions(ctx context.Context, memberID string, entries []lifecycle.Transition) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM member_status_transitions WHERE member_id = ?`, memberID); err != nil {
		return err
	}
	for _, e := range entries {
		res, err := t.tx.ExecContext(ctx, `INSERT INTO member_status_transitions
  (id, member_id, from_status, to_status, reason, left_category, kind, membership_type_id, effective_date, actor_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
			e.ID, memberID, string(e.FromStatus), string(e.ToStatus), e.Reason, nullString(string(e.LeftCategory)),
			nullString(string(e.Kind)), nullString(e.MembershipTypeID), formatDate(e.EffectiveDate), nullString(e.ActorID), toMillis(e.CreatedAt))
		if err := checkInserted(res, err); err != nil {
			return fmt.Errorf("insert transition %s: %w", e.ID, err)
		}
	}
	return nil
}

func (t *lifecycleTx) SavePeriods(ctx context.Context, memberID string, periods []lifecycle.Period) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM membership_periods WHERE member_id = ?`, memberID); err != nil {
		return err
	}
	for _, p := range periods {
		res, err := t.tx.ExecContext(ctx, `INSERT INTO membership_periods
  (id, member_id, join_date, leave_date, membership_type_id, notes, opened_by, closed_by, prior_leave_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
			p.ID, memberID, formatDate(p.JoinDate), nullDate(p.LeaveDate), nullString(p.MembershipTypeID), p.Notes,
			nullString(p.OpenedBy), nullString(p.ClosedBy), nullDate(p.PriorLeaveDate), toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
		if err := checkInserted(res, err); err != nil {
			return fmt.Errorf("insert period %s: %w", p.ID, err)
		}
	}
	return nil
}

// checkInserted turns a skipped insert into ErrDuplicateID: the id survived the
// member's delete, so another member owns it.
func checkInserted(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lifecycle.ErrDuplicateID
	}
	return nil
}

func nullDate(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*d), Valid: true}
}

func (t *lifecycleTx) SaveMemberState(ctx context.Context, state lifecycle.MemberState, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE members SET current_status = ?, timeline_version = ?, updated_at = ?
WHERE id = ? AND timeline_version = ?`,
		string(state.CurrentStatus), state.TimelineVersion, toMillis(t.now()), state.ID, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := loadMemberState(ctx, t.tx, state.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: member %s moved past version %d", lifecycle.ErrConcurrentModification, state.ID, expectedVersion)
	}
	return nil
}

func loadMemberState(ctx context.Context, q queryer, memberID string) (lifecycle.MemberState, error) {
	var (
		m                lifecycle.MemberState
		initial, current string
	)
	err := q.QueryRowContext(ctx, `SELECT id, initial_status, current_status, timeline_version FROM members WHERE id = ?`, memberID).
		Scan(&m.ID, &initial, &current, &m.TimelineVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.MemberState{}, fmt.Errorf("%w: %s", lifecycle.ErrMemberNotFound, memberID)
	}
	if err != nil {
		return lifecycle.MemberState{}, err
	}
	m.InitialStatus = lifecycle.Status(initial)
	m.CurrentStatus = lifecycle.Status(current)
	return m, nil
}

func loadTransitions(ctx context.Context, q queryer, memberID string) ([]lifecycle.Transition, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, member_id, from_status, to_status, reason, COALESCE(left_category, ''),
  COALESCE(kind, ''), COALESCE(membership_type_id, ''), effective_date, COALESCE(actor_id, ''), created_at
FROM member_status_transitions WHERE member_id = ?
ORDER BY effective_date, created_at, id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lifecycle.Transition
	for rows.Next() {
		var (
			t                        lifecycle.Transition
			from, to, category, kind string
			effective                string
			createdAt                int64
		)
		if err := rows.Scan(&t.ID, &t.MemberID, &from, &to, &t.Reason, &category, &kind, &t.MembershipTypeID, &effective, &t.ActorID, &createdAt); err != nil {
			return nil, err
		}
		if t.EffectiveDate, err = parseDate(effective); err != nil {
			return nil, fmt.Errorf("transition %s effective date: %w", t.ID, err)
		}
		t.FromStatus = lifecycle.Status(from)
		t.ToStatus = lifecycle.Status(to)
		t.LeftCategory = lifecycle.LeftCategory(category)
		t.Kind = lifecycle.Kind(kind)
		t.CreatedAt = fromMillis(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func loadPeriods(ctx context.Context, q queryer, memberID string) ([]lifecycle.Period, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, member_id, join_date, leave_date, COALESCE(membership_type_id, ''), notes,
  COALESCE(opened_by, ''), COALESCE(closed_by, ''), prior_leave_date, created_at, updated_at
FROM membership_periods WHERE member_id = ?
ORDER BY join_date, created_at`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lifecycle.Period
	for rows.Next() {
		var (
			p                    lifecycle.Period
			join                 string
			leave, prior         sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&p.ID, &p.MemberID, &join, &leave, &p.MembershipTypeID, &p.Notes, &p.OpenedBy, &p.ClosedBy, &prior, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if p.JoinDate, err = parseDate(join); err != nil {
			return nil, fmt.Errorf("period %s join date: %w", p.ID, err)
		}
		if leave.Valid {
			d, err := parseDate(leave.String)
			if err != nil {
				return nil, fmt.Errorf("period %s leave date: %w", p.ID, err)
			}
			p.LeaveDate = &d
		}
		if prior.Valid {
			d, err := parseDate(prior.String)
			if err != nil {
				return nil, fmt.Errorf("period %s prior leave date: %w", p.ID, err)
			}
			p.PriorLeaveDate = &d
		}
		p.CreatedAt = fromMillis(createdAt)
		p.UpdatedAt = fromMillis(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ lifecycle.Repository = (*Store)(nil)
