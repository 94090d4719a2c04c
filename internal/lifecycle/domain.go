package lifecycle

import (
	"errors"
	"sort"
	"time"
)

// Status enumerates member lifecycle states.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusLeft     Status = "LEFT"
)

// LeftCategory classifies why a member left the club.
type LeftCategory string

const (
	LeftVoluntary LeftCategory = "VOLUNTARY"
	LeftExclusion LeftCategory = "EXCLUSION"
	LeftDeath     LeftCategory = "DEATH"
	LeftOther     LeftCategory = "OTHER"
)

// Valid reports whether the category is one of the known values.
func (c LeftCategory) Valid() bool {
	switch c {
	case LeftVoluntary, LeftExclusion, LeftDeath, LeftOther:
		return true
	default:
		return false
	}
}

// Reason length bounds, counted in runes after normalisation.
const (
	MinReasonLength = 1
	MaxReasonLength = 500
)

// Transition is one entry of a member's status transition log.
type Transition struct {
	ID               string
	MemberID         string
	FromStatus       Status
	ToStatus         Status
	Reason           string
	LeftCategory     LeftCategory
	Kind             Kind
	MembershipTypeID string
	EffectiveDate    time.Time
	ActorID          string
	CreatedAt        time.Time
}

// IsSelf reports whether the transition keeps the status unchanged.
func (t Transition) IsSelf() bool {
	return t.FromStatus == t.ToStatus
}

// Period is a membership period. LeaveDate nil means the period is open.
type Period struct {
	ID               string
	MemberID         string
	JoinDate         time.Time
	LeaveDate        *time.Time
	MembershipTypeID string
	Notes            string
	OpenedBy         string
	ClosedBy         string
	// PriorLeaveDate is the leave date the period had before ClosedBy moved it back.
	PriorLeaveDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the period has no leave date.
func (p Period) IsOpen() bool {
	return p.LeaveDate == nil
}

// Overlaps reports whether the period intersects [start, end). A nil end is unbounded.
func (p Period) Overlaps(start time.Time, end *time.Time) bool {
	if end != nil && !start.Before(*end) {
		// empty interval
		return false
	}
	if p.LeaveDate != nil && !p.JoinDate.Before(*p.LeaveDate) {
		return false
	}
	startBeforePeriodEnd := p.LeaveDate == nil || start.Before(*p.LeaveDate)
	periodStartBeforeEnd := end == nil || p.JoinDate.Before(*end)
	return startBeforePeriodEnd && periodStartBeforeEnd
}

// Contains reports whether date falls inside [JoinDate, LeaveDate).
func (p Period) Contains(date time.Time) bool {
	if date.Before(p.JoinDate) {
		return false
	}
	return p.LeaveDate == nil || date.Before(*p.LeaveDate)
}

// MemberState is the lifecycle-relevant slice of a member record.
type MemberState struct {
	ID              string
	InitialStatus   Status
	CurrentStatus   Status
	TimelineVersion int64
}

// Snapshot captures a member's full timeline at one version.
type Snapshot struct {
	Member      MemberState
	Transitions []Transition
	Periods     []Period
}

// Clone returns a deep copy so callers may mutate it freely.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Member: s.Member}
	out.Transitions = append([]Transition(nil), s.Transitions...)
	out.Periods = make([]Period, len(s.Periods))
	for i, p := range s.Periods {
		out.Periods[i] = clonePeriod(p)
	}
	return out
}

func clonePeriod(p Period) Period {
	if p.LeaveDate != nil {
		leave := *p.LeaveDate
		p.LeaveDate = &leave
	}
	if p.PriorLeaveDate != nil {
		prior := *p.PriorLeaveDate
		p.PriorLeaveDate = &prior
	}
	return p
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

func dayPtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}

func sortTransitions(entries []Transition) {
	sort.SliceStable(entries, func(i, j int) bool {
		return transitionLess(entries[i], entries[j])
	})
}

func transitionLess(a, b Transition) bool {
	if !a.EffectiveDate.Equal(b.EffectiveDate) {
		return a.EffectiveDate.Before(b.EffectiveDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortPeriods(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		if !periods[i].JoinDate.Equal(periods[j].JoinDate) {
			return periods[i].JoinDate.Before(periods[j].JoinDate)
		}
		return periods[i].CreatedAt.Before(periods[j].CreatedAt)
	})
}

// Validation errors are rejected before any mutation.
var (
	ErrInvalidTransition       = errors.New("lifecycle: transition not allowed")
	ErrMissingCategory         = errors.New("lifecycle: left category required")
	ErrReasonLength            = errors.New("lifecycle: reason must be between 1 and 500 characters")
	ErrInvalidRange            = errors.New("lifecycle: leave date before join date")
	ErrNamedTransitionMismatch = errors.New("lifecycle: named transition does not target requested status")
	ErrUnknownMembershipType   = errors.New("lifecycle: unknown membership type")
	ErrUnknownStatus           = errors.New("lifecycle: unknown status")
	ErrTypeUnchanged           = errors.New("lifecycle: membership type unchanged")
	ErrDuplicateID             = errors.New("lifecycle: identifier already in use")
)

// Consistency errors imply the caller should refresh and retry.
var (
	ErrOverlap                = errors.New("lifecycle: period overlaps existing period")
	ErrNotOpen                = errors.New("lifecycle: period already closed")
	ErrAlreadyOpen            = errors.New("lifecycle: period already open")
	ErrOpenPeriodMismatch     = errors.New("lifecycle: open period does not match member status")
	ErrConcurrentModification = errors.New("lifecycle: member timeline changed concurrently")
)

// Lookup errors.
var (
	ErrMemberNotFound     = errors.New("lifecycle: member not found")
	ErrTransitionNotFound = errors.New("lifecycle: transition not found")
	ErrPeriodNotFound     = errors.New("lifecycle: period not found")
)

// IsValidationError reports whether err belongs to the validation class.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrMissingCategory, ErrReasonLength, ErrInvalidRange,
		ErrNamedTransitionMismatch, ErrUnknownMembershipType, ErrUnknownStatus, ErrTypeUnchanged,
		ErrDuplicateID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConsistencyError reports whether err belongs to the consistency class.
func IsConsistencyError(err error) bool {
	for _, target := range []error{
		ErrOverlap, ErrNotOpen, ErrAlreadyOpen, ErrOpenPeriodMismatch, ErrConcurrentModification,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
