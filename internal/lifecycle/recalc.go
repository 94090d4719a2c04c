package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// ChangeKind enumerates timeline mutations handled by recalculation.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeEdit   ChangeKind = "EDIT"
	ChangeDelete ChangeKind = "DELETE"
)

// Change describes one requested timeline mutation.
// Insert uses Entry (FromStatus is derived). Edit uses Entry with the ID of the
// entry being replaced. Delete uses TransitionID.
type Change struct {
	Kind         ChangeKind
	Entry        Transition
	TransitionID string
}

// RestoredTransition is a later entry whose FromStatus was rewritten to keep the walk intact.
type RestoredTransition struct {
	Transition   Transition
	PreviousFrom Status
}

// Plan is the pure result of a recalculation. It carries the full resulting timeline so
// applying it is a replacement, which makes apply idempotent.
type Plan struct {
	MemberID    string
	BaseVersion int64
	Change      Change
	Entry       Transition
	OutOfOrder  bool
	HasChanges  bool

	RemovedTransitions  []Transition
	RestoredTransitions []RestoredTransition

	CreatedPeriods  []Period
	ClosedPeriods   []Period
	ReopenedPeriods []Period
	DeletedPeriods  []Period
	AdjustedPeriods []Period

	FinalMemberStatus Status

	Transitions []Transition
	Periods     []Period
}

// Apply returns the snapshot that results from committing the plan onto base.
func (p Plan) Apply(base Snapshot) (Snapshot, error) {
	if base.Member.ID != p.MemberID {
		return Snapshot{}, fmt.Errorf("%w: plan for %s applied to %s", ErrMemberNotFound, p.MemberID, base.Member.ID)
	}
	out := Snapshot{Member: base.Member}
	out.Member.CurrentStatus = p.FinalMemberStatus
	out.Transitions = append([]Transition(nil), p.Transitions...)
	out.Periods = make([]Period, len(p.Periods))
	for i, period := range p.Periods {
		out.Periods[i] = clonePeriod(period)
	}
	return out, nil
}

// Env supplies the clock, identifiers and defaults used while recalculating.
type Env struct {
	Today                   time.Time
	Now                     func() time.Time
	NewID                   func() string
	PeriodIDFor             func(transitionID string) string
	DefaultMembershipTypeID string
}

func (env Env) periodID(transitionID string) string {
	if env.PeriodIDFor != nil {
		return env.PeriodIDFor(transitionID)
	}
	return env.NewID()
}

// Recalculate applies change to an in-memory copy of snap and re-derives every
// transition and period that depends on events at or after the change date.
// It never touches storage.
func Recalculate(g *Graph, snap Snapshot, change Change, env Env) (Plan, error) {
	base := snap.Clone()
	memberID := base.Member.ID
	initial := base.Member.InitialStatus
	if initial == "" {
		initial = g.Initial()
	}
	entries := append([]Transition(nil), base.Transitions...)
	sortTransitions(entries)

	var (
		changed Transition
		pivot   time.Time
	)
	switch change.Kind {
	case ChangeInsert:
		changed = change.Entry
		if changed.ID == "" {
			changed.ID = env.NewID()
		}
		if indexOfTransition(entries, changed.ID) >= 0 {
			return Plan{}, fmt.Errorf("%w: transition %s", ErrDuplicateID, changed.ID)
		}
		if changed.CreatedAt.IsZero() {
			changed.CreatedAt = env.Now()
		}
		changed.MemberID = memberID
		changed.EffectiveDate = Day(changed.EffectiveDate)
		pivot = changed.EffectiveDate
		entries = append(entries, changed)
	case ChangeEdit:
		idx := indexOfTransition(entries, change.Entry.ID)
		if idx < 0 {
			return Plan{}, ErrTransitionNotFound
		}
		orig := entries[idx]
		changed = change.Entry
		changed.MemberID = memberID
		changed.CreatedAt = orig.CreatedAt
		changed.EffectiveDate = Day(changed.EffectiveDate)
		pivot = orig.EffectiveDate
		if changed.EffectiveDate.Before(pivot) {
			pivot = changed.EffectiveDate
		}
		entries[idx] = changed
	case ChangeDelete:
		idx := indexOfTransition(entries, change.TransitionID)
		if idx < 0 {
			return Plan{}, ErrTransitionNotFound
		}
		changed = entries[idx]
		pivot = changed.EffectiveDate
		entries = append(entries[:idx], entries[idx+1:]...)
	default:
		return Plan{}, fmt.Errorf("lifecycle: unsupported change %q", change.Kind)
	}
	sortTransitions(entries)

	resolved := change
	if change.Kind == ChangeInsert {
		resolved.Entry = changed
	}
	plan := Plan{
		MemberID:    memberID,
		BaseVersion: base.Member.TimelineVersion,
		Change:      resolved,
		OutOfOrder:  change.Kind != ChangeInsert || hasLaterEvents(base, pivot),
	}

	validator := &Log{graph: g, initial: initial}
	walked := make([]Transition, 0, len(entries))
	prev := initial
	for _, e := range entries {
		if change.Kind != ChangeDelete && e.ID == changed.ID {
			e.FromStatus = prev
			v, err := validator.validateEntry(e)
			if err != nil {
				return Plan{}, err
			}
			changed = v
			walked = append(walked, v)
			prev = v.ToStatus
			continue
		}
		if e.FromStatus == prev {
			walked = append(walked, e)
			prev = e.ToStatus
			continue
		}
		if g.CanTransition(prev, e.ToStatus) {
			plan.RestoredTransitions = append(plan.RestoredTransitions, RestoredTransition{
				Transition:   withFrom(e, prev),
				PreviousFrom: e.FromStatus,
			})
			e.FromStatus = prev
			walked = append(walked, e)
			prev = e.ToStatus
			continue
		}
		plan.RemovedTransitions = append(plan.RemovedTransitions, e)
	}
	plan.Entry = changed

	ledger := NewLedger(memberID, base.Periods, env.Now, env.NewID)
	opened := unwindPeriods(ledger, base.Transitions, pivot)
	r := replayer{graph: g, ledger: ledger, opened: opened, env: env}
	for _, e := range walked {
		if e.EffectiveDate.Before(pivot) {
			continue
		}
		if err := r.apply(e); err != nil {
			return Plan{}, err
		}
	}
	if err := ledger.Validate(); err != nil {
		return Plan{}, err
	}

	plan.Transitions = walked
	plan.Periods = ledger.Periods()
	plan.FinalMemberStatus = (&Log{graph: g, initial: initial, entries: walked}).StatusAsOf(env.Today)
	if err := checkCoverage(g, ledger, plan.FinalMemberStatus, env.Today); err != nil {
		return Plan{}, err
	}

	knockOn := diffPeriods(&plan, base.Periods, changed.ID)
	plan.HasChanges = len(plan.RemovedTransitions) > 0 || len(plan.RestoredTransitions) > 0 || knockOn
	return plan, nil
}

// unwindPeriods reverts, newest first, the period boundaries produced by entries effective
// on or after pivot. It returns the removed periods keyed by the transition that opened them.
func unwindPeriods(ledger *Ledger, entries []Transition, pivot time.Time) map[string]Period {
	affected := make([]Transition, 0, len(entries))
	for _, e := range entries {
		if !e.EffectiveDate.Before(pivot) {
			affected = append(affected, e)
		}
	}
	sortTransitions(affected)
	opened := make(map[string]Period)
	for i := len(affected) - 1; i >= 0; i-- {
		id := affected[i].ID
		for _, p := range ledger.Periods() {
			if p.OpenedBy == id {
				ledger.remove(p.ID)
				opened[id] = p
			}
		}
		for _, p := range ledger.Periods() {
			if p.ClosedBy == id {
				ledger.restore(p.ID)
			}
		}
	}
	return opened
}

type replayer struct {
	graph  *Graph
	ledger *Ledger
	opened map[string]Period
	env    Env
}

// apply performs the period side effects of entry e on the ledger.
func (r replayer) apply(e Transition) error {
	date := e.EffectiveDate
	covering, hasCovering := r.ledger.FindAt(date)
	if !r.graph.RequiresPeriod(e.ToStatus) {
		if hasCovering && r.graph.RequiresPeriod(e.FromStatus) {
			// a later manual leave date is pulled back to date; unwinding puts it back
			r.ledger.shorten(covering.ID, date, e.ID)
		}
		return nil
	}
	if !hasCovering {
		return r.open(e, date, nil)
	}
	retyped := e.MembershipTypeID != "" && e.MembershipTypeID != covering.MembershipTypeID
	if e.IsSelf() && retyped {
		return r.split(e, covering, covering.LeaveDate)
	}
	if r.graph.RequiresPeriod(e.FromStatus) {
		return nil
	}
	if retyped {
		return r.split(e, covering, r.carryForward(covering))
	}
	if !covering.IsOpen() {
		// a later period already carries the membership forward
		if _, err := r.ledger.Reopen(covering.ID); err != nil && !errors.Is(err, ErrOverlap) {
			return err
		}
	}
	return nil
}

// split ends covering at the effective date of e and opens a back-to-back period of the
// type e names. A covering period that would be left without a single day is dropped.
func (r replayer) split(e Transition, covering Period, leave *time.Time) error {
	date := e.EffectiveDate
	if covering.JoinDate.Equal(date) {
		r.ledger.remove(covering.ID)
	} else {
		r.ledger.shorten(covering.ID, date, e.ID)
	}
	return r.open(e, date, leave)
}

// carryForward returns the leave date for a period replacing a closed covering period:
// open unless another period already continues the membership.
func (r replayer) carryForward(covering Period) *time.Time {
	if covering.IsOpen() {
		return nil
	}
	if len(r.ledger.FindOverlapping(*covering.LeaveDate, nil, covering.ID)) > 0 {
		return covering.LeaveDate
	}
	if _, ok := r.ledger.FindOpen(); ok {
		return covering.LeaveDate
	}
	return nil
}

func (r replayer) open(e Transition, date time.Time, leave *time.Time) error {
	p := Period{
		ID:               r.env.periodID(e.ID),
		JoinDate:         date,
		LeaveDate:        leave,
		MembershipTypeID: e.MembershipTypeID,
		OpenedBy:         e.ID,
	}
	if prior, ok := r.opened[e.ID]; ok {
		p.ID = prior.ID
		p.Notes = prior.Notes
		p.CreatedAt = prior.CreatedAt
		if p.MembershipTypeID == "" {
			p.MembershipTypeID = prior.MembershipTypeID
		}
	}
	if p.MembershipTypeID == "" {
		p.MembershipTypeID = r.env.DefaultMembershipTypeID
	}
	_, err := r.ledger.insert(p)
	return err
}

// diffPeriods fills the period lists of plan and reports whether any change is not a
// direct effect of the changed entry.
func diffPeriods(plan *Plan, before []Period, changedID string) bool {
	direct := func(p Period) bool {
		return changedID != "" && (p.OpenedBy == changedID || p.ClosedBy == changedID)
	}
	knockOn := false
	mark := func(old, cur *Period) {
		if (old == nil || !direct(*old)) && (cur == nil || !direct(*cur)) {
			knockOn = true
		}
	}
	prior := make(map[string]Period, len(before))
	for _, p := range before {
		prior[p.ID] = p
	}
	seen := make(map[string]bool, len(plan.Periods))
	for _, cur := range plan.Periods {
		cur := cur
		seen[cur.ID] = true
		old, ok := prior[cur.ID]
		if !ok {
			plan.CreatedPeriods = append(plan.CreatedPeriods, cur)
			mark(nil, &cur)
			continue
		}
		switch {
		case old.IsOpen() && !cur.IsOpen():
			plan.ClosedPeriods = append(plan.ClosedPeriods, cur)
			mark(&old, &cur)
		case !old.IsOpen() && cur.IsOpen():
			plan.ReopenedPeriods = append(plan.ReopenedPeriods, cur)
			mark(&old, &cur)
		case !old.IsOpen() && !cur.LeaveDate.Equal(*old.LeaveDate):
			plan.ClosedPeriods = append(plan.ClosedPeriods, cur)
			mark(&old, &cur)
		}
		if !old.JoinDate.Equal(cur.JoinDate) || old.MembershipTypeID != cur.MembershipTypeID {
			plan.AdjustedPeriods = append(plan.AdjustedPeriods, cur)
			mark(&old, &cur)
		}
	}
	for _, old := range before {
		if seen[old.ID] {
			continue
		}
		old := old
		plan.DeletedPeriods = append(plan.DeletedPeriods, old)
		mark(&old, nil)
	}
	return knockOn
}

// checkCoverage enforces that a period covers today iff status requires one.
func checkCoverage(g *Graph, ledger *Ledger, status Status, today time.Time) error {
	_, covered := ledger.FindAt(today)
	if g.RequiresPeriod(status) != covered {
		return fmt.Errorf("%w: status %s, period covering today: %t", ErrOpenPeriodMismatch, status, covered)
	}
	return nil
}

func hasLaterEvents(snap Snapshot, date time.Time) bool {
	for _, e := range snap.Transitions {
		if e.EffectiveDate.After(date) {
			return true
		}
	}
	for _, p := range snap.Periods {
		if p.JoinDate.After(date) {
			return true
		}
		if p.LeaveDate != nil && p.LeaveDate.After(date) {
			return true
		}
	}
	return false
}

func withFrom(e Transition, from Status) Transition {
	e.FromStatus = from
	return e
}

func indexOfTransition(entries []Transition, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
