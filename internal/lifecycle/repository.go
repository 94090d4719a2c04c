package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubroster/clubroster/internal/platform/db"
)

// PostgresRepository persists member timelines in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	tx pgx.Tx
}

// WithMemberLock executes fn inside a repeatable-read transaction holding an advisory
// lock scoped to the member.
func (r *PostgresRepository) WithMemberLock(ctx context.Context, memberID string, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("lifecycle: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "member:"+memberID); err != nil {
			return fmt.Errorf("lifecycle: lock member: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx})
	})
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

// LoadMember returns the lifecycle slice of the member row.
func (r *PostgresRepository) LoadMember(ctx context.Context, memberID string) (MemberState, error) {
	return loadMember(ctx, r.pool, memberID)
}

// LoadTransitions returns the member's log in log order.
func (r *PostgresRepository) LoadTransitions(ctx context.Context, memberID string) ([]Transition, error) {
	return loadTransitions(ctx, r.pool, memberID)
}

// LoadPeriods returns the member's periods ordered by join date.
func (r *PostgresRepository) LoadPeriods(ctx context.Context, memberID string) ([]Period, error) {
	return loadPeriods(ctx, r.pool, memberID)
}

// MembersWithTransitionsBetween lists members with entries effective in [from, to].
func (r *PostgresRepository) MembersWithTransitionsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT member_id FROM member_status_transitions
WHERE effective_date BETWEEN $1 AND $2 ORDER BY member_id`, from, to)
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

func (t *pgTx) LoadMember(ctx context.Context, memberID string) (MemberState, error) {
	return loadMember(ctx, t.tx, memberID)
}

func (t *pgTx) LoadTransitions(ctx context.Context, memberID string) ([]Transition, error) {
	return loadTransitions(ctx, t.tx, memberID)
}

func (t *pgTx) LoadPeriods(ctx context.Context, memberID string) ([]Period, error) {
	return loadPeriods(ctx, t.tx, memberID)
}

func (t *pgTx) SaveTransitions(ctx context.Context, memberID string, entries []Transition) error {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM member_status_transitions WHERE member_id = $1 AND NOT (id = ANY($2))`, memberID, ids); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO member_status_transitions
  (id, member_id, from_status, to_status, reason, left_category, kind, membership_type_id, effective_date, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11)
ON CONFLICT (id) DO UPDATE SET
  from_status = EXCLUDED.from_status,
  to_status = EXCLUDED.to_status,
  reason = EXCLUDED.reason,
  left_category = EXCLUDED.left_category,
  kind = EXCLUDED.kind,
  membership_type_id = EXCLUDED.membership_type_id,
  effective_date = EXCLUDED.effective_date
WHERE member_status_transitions.member_id = EXCLUDED.member_id`,
			e.ID, memberID, string(e.FromStatus), string(e.ToStatus), e.Reason, string(e.LeftCategory),
			string(e.Kind), e.MembershipTypeID, e.EffectiveDate, e.ActorID, e.CreatedAt)
	}
	return execUpserts(ctx, t.tx, batch, ids)
}

func (t *pgTx) SavePeriods(ctx context.Context, memberID string, periods []Period) error {
	ids := make([]string, 0, len(periods))
	for _, p := range periods {
		ids = append(ids, p.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM membership_periods WHERE member_id = $1 AND NOT (id = ANY($2))`, memberID, ids); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(`INSERT INTO membership_periods
  (id, member_id, join_date, leave_date, membership_type_id, notes, opened_by, closed_by, prior_leave_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  join_date = EXCLUDED.join_date,
  leave_date = EXCLUDED.leave_date,
  membership_type_id = EXCLUDED.membership_type_id,
  notes = EXCLUDED.notes,
  opened_by = EXCLUDED.opened_by,
  closed_by = EXCLUDED.closed_by,
  prior_leave_date = EXCLUDED.prior_leave_date,
  updated_at = EXCLUDED.updated_at
WHERE membership_periods.member_id = EXCLUDED.member_id`,
			p.ID, memberID, p.JoinDate, p.LeaveDate, p.MembershipTypeID, p.Notes, p.OpenedBy, p.ClosedBy, p.PriorLeaveDate, p.CreatedAt, p.UpdatedAt)
	}
	return execUpserts(ctx, t.tx, batch, ids)
}

// execUpserts runs one queued upsert per id. An upsert that touches no row hit an id
// owned by another member.
func execUpserts(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, ids []string) error {
	br := tx.SendBatch(ctx, batch)
	for _, id := range ids {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	}
	return br.Close()
}

func (t *pgTx) SaveMemberState(ctx context.Context, state MemberState, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE members SET current_status = $2, timeline_version = $3, updated_at = NOW()
WHERE id = $1 AND timeline_version = $4`, state.ID, string(state.CurrentStatus), state.TimelineVersion, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := loadMember(ctx, t.tx, state.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: member %s moved past version %d", ErrConcurrentModification, state.ID, expectedVersion)
	}
	return nil
}

func loadMember(ctx context.Context, q queryer, memberID string) (MemberState, error) {
	var (
		m                MemberState
		initial, current string
	)
	err := q.QueryRow(ctx, `SELECT id, initial_status, current_status, timeline_version FROM members WHERE id = $1`, memberID).
		Scan(&m.ID, &initial, &current, &m.TimelineVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MemberState{}, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
		}
		return MemberState{}, err
	}
	m.InitialStatus = Status(initial)
	m.CurrentStatus = Status(current)
	return m, nil
}

func loadTransitions(ctx context.Context, q queryer, memberID string) ([]Transition, error) {
	rows, err := q.Query(ctx, `SELECT id, member_id, from_status, to_status, reason, COALESCE(left_category, ''),
  COALESCE(kind, ''), COALESCE(membership_type_id, ''), effective_date, COALESCE(actor_id, ''), created_at
FROM member_status_transitions WHERE member_id = $1
ORDER BY effective_date, created_at, id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transition
	for rows.Next() {
		var (
			t                        Transition
			from, to, category, kind string
		)
		if err := rows.Scan(&t.ID, &t.MemberID, &from, &to, &t.Reason, &category, &kind, &t.MembershipTypeID, &t.EffectiveDate, &t.ActorID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.FromStatus = Status(from)
		t.ToStatus = Status(to)
		t.LeftCategory = LeftCategory(category)
		t.Kind = Kind(kind)
		t.EffectiveDate = Day(t.EffectiveDate)
		out = append(out, t)
	}
	return out, rows.Err()
}

func loadPeriods(ctx context.Context, q queryer, memberID string) ([]Period, error) {
	rows, err := q.Query(ctx, `SELECT id, member_id, join_date, leave_date, COALESCE(membership_type_id, ''), notes,
  COALESCE(opened_by, ''), COALESCE(closed_by, ''), prior_leave_date, created_at, updated_at
FROM membership_periods WHERE member_id = $1
ORDER BY join_date, created_at`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.MemberID, &p.JoinDate, &p.LeaveDate, &p.MembershipTypeID, &p.Notes, &p.OpenedBy, &p.ClosedBy, &p.PriorLeaveDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.JoinDate = Day(p.JoinDate)
		if p.LeaveDate != nil {
			p.LeaveDate = dayPtr(*p.LeaveDate)
		}
		if p.PriorLeaveDate != nil {
			p.PriorLeaveDate = dayPtr(*p.PriorLeaveDate)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
