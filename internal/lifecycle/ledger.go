package lifecycle

import (
	"fmt"
	"time"
)

// Ledger holds one member's membership periods and enforces the no-overlap and
// single-open-period invariants. It operates on an in-memory snapshot.
type Ledger struct {
	memberID string
	periods  []Period
	now      func() time.Time
	newID    func() string
}

// NewLedger copies periods into a ledger for memberID.
func NewLedger(memberID string, periods []Period, now func() time.Time, newID func() string) *Ledger {
	l := &Ledger{memberID: memberID, now: now, newID: newID}
	l.periods = make([]Period, len(periods))
	for i, p := range periods {
		l.periods[i] = clonePeriod(p)
	}
	sortPeriods(l.periods)
	return l
}

// Periods returns a copy of the ledger ordered by join date.
func (l *Ledger) Periods() []Period {
	out := make([]Period, len(l.periods))
	for i, p := range l.periods {
		out[i] = clonePeriod(p)
	}
	return out
}

// Get returns the period with id.
func (l *Ledger) Get(id string) (Period, bool) {
	idx := l.index(id)
	if idx < 0 {
		return Period{}, false
	}
	return clonePeriod(l.periods[idx]), true
}

// Create adds a period. leaveDate nil creates an open period.
func (l *Ledger) Create(joinDate time.Time, leaveDate *time.Time, membershipTypeID, notes string) (Period, error) {
	return l.insert(Period{
		ID:               l.newID(),
		JoinDate:         joinDate,
		LeaveDate:        leaveDate,
		MembershipTypeID: membershipTypeID,
		Notes:            notes,
	})
}

func (l *Ledger) insert(p Period) (Period, error) {
	p.MemberID = l.memberID
	p.JoinDate = Day(p.JoinDate)
	if p.LeaveDate != nil {
		p.LeaveDate = dayPtr(*p.LeaveDate)
		if p.LeaveDate.Before(p.JoinDate) {
			return Period{}, ErrInvalidRange
		}
	}
	if conflicts := l.FindOverlapping(p.JoinDate, p.LeaveDate, p.ID); len(conflicts) > 0 {
		return Period{}, fmt.Errorf("%w: %s", ErrOverlap, conflicts[0].ID)
	}
	if p.IsOpen() {
		if open, ok := l.FindOpen(); ok && open.ID != p.ID {
			return Period{}, fmt.Errorf("%w: %s is open", ErrOverlap, open.ID)
		}
	}
	now := l.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	l.periods = append(l.periods, p)
	sortPeriods(l.periods)
	return clonePeriod(p), nil
}

// Close sets the leave date of an open period.
func (l *Ledger) Close(periodID string, leaveDate time.Time) (Period, error) {
	idx := l.index(periodID)
	if idx < 0 {
		return Period{}, ErrPeriodNotFound
	}
	p := &l.periods[idx]
	if !p.IsOpen() {
		return Period{}, ErrNotOpen
	}
	leave := Day(leaveDate)
	if leave.Before(p.JoinDate) {
		return Period{}, ErrInvalidRange
	}
	p.LeaveDate = &leave
	p.UpdatedAt = l.now()
	return clonePeriod(*p), nil
}

// Reopen clears the leave date of a closed period.
func (l *Ledger) Reopen(periodID string) (Period, error) {
	idx := l.index(periodID)
	if idx < 0 {
		return Period{}, ErrPeriodNotFound
	}
	p := l.periods[idx]
	if p.IsOpen() {
		return Period{}, ErrAlreadyOpen
	}
	if conflicts := l.FindOverlapping(p.JoinDate, nil, p.ID); len(conflicts) > 0 {
		return Period{}, fmt.Errorf("%w: %s", ErrOverlap, conflicts[0].ID)
	}
	if open, ok := l.FindOpen(); ok {
		return Period{}, fmt.Errorf("%w: %s is open", ErrOverlap, open.ID)
	}
	l.periods[idx].LeaveDate = nil
	l.periods[idx].ClosedBy = ""
	l.periods[idx].PriorLeaveDate = nil
	l.periods[idx].UpdatedAt = l.now()
	return clonePeriod(l.periods[idx]), nil
}

// FindOverlapping returns periods intersecting [start, end), skipping excludeID.
func (l *Ledger) FindOverlapping(start time.Time, end *time.Time, excludeID string) []Period {
	var out []Period
	for _, p := range l.periods {
		if excludeID != "" && p.ID == excludeID {
			continue
		}
		if p.Overlaps(start, end) {
			out = append(out, clonePeriod(p))
		}
	}
	return out
}

// FindOpen returns the open period, if any.
func (l *Ledger) FindOpen() (Period, bool) {
	for _, p := range l.periods {
		if p.IsOpen() {
			return clonePeriod(p), true
		}
	}
	return Period{}, false
}

// FindAt returns the period whose [JoinDate, LeaveDate) contains date.
func (l *Ledger) FindAt(date time.Time) (Period, bool) {
	date = Day(date)
	for _, p := range l.periods {
		if p.Contains(date) {
			return clonePeriod(p), true
		}
	}
	return Period{}, false
}

// Validate checks the no-overlap and single-open-period invariants.
func (l *Ledger) Validate() error {
	open := 0
	for i, p := range l.periods {
		if p.LeaveDate != nil && p.LeaveDate.Before(p.JoinDate) {
			return fmt.Errorf("%w: %s", ErrInvalidRange, p.ID)
		}
		if p.IsOpen() {
			open++
		}
		for _, q := range l.periods[i+1:] {
			if q.Overlaps(p.JoinDate, p.LeaveDate) {
				return fmt.Errorf("%w: %s and %s", ErrOverlap, p.ID, q.ID)
			}
		}
	}
	if open > 1 {
		return fmt.Errorf("%w: %d open periods", ErrOverlap, open)
	}
	return nil
}

func (l *Ledger) remove(id string) (Period, bool) {
	idx := l.index(id)
	if idx < 0 {
		return Period{}, false
	}
	p := l.periods[idx]
	l.periods = append(l.periods[:idx], l.periods[idx+1:]...)
	return p, true
}

// shorten ends the period at leave on behalf of transition closedBy and remembers the
// leave date it replaces.
func (l *Ledger) shorten(id string, leave time.Time, closedBy string) {
	idx := l.index(id)
	if idx < 0 {
		return
	}
	p := &l.periods[idx]
	p.PriorLeaveDate = p.LeaveDate
	p.LeaveDate = dayPtr(leave)
	p.ClosedBy = closedBy
	p.UpdatedAt = l.now()
}

// restore undoes shorten: the period gets back the leave date it had before, or
// becomes open again when it had none.
func (l *Ledger) restore(id string) {
	idx := l.index(id)
	if idx < 0 {
		return
	}
	p := &l.periods[idx]
	p.LeaveDate = p.PriorLeaveDate
	p.PriorLeaveDate = nil
	p.ClosedBy = ""
	p.UpdatedAt = l.now()
}

func (l *Ledger) index(id string) int {
	for i, p := range l.periods {
		if p.ID == id {
			return i
		}
	}
	return -1
}
