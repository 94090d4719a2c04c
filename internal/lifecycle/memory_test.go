package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clubroster/clubroster/internal/shared"
)

// memoryRepository is an in-memory Repository. Writes made inside WithMemberLock are
// staged and only become visible when fn returns nil.
type memoryRepository struct {
	lock sync.Mutex

	mu          sync.Mutex
	members     map[string]MemberState
	transitions map[string][]Transition
	periods     map[string][]Period
	commits     int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		members:     make(map[string]MemberState),
		transitions: make(map[string][]Transition),
		periods:     make(map[string][]Period),
	}
}

func (r *memoryRepository) seed(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[snap.Member.ID] = snap.Member
	r.transitions[snap.Member.ID] = append([]Transition(nil), snap.Transitions...)
	r.periods[snap.Member.ID] = snap.Clone().Periods
}

func (r *memoryRepository) snapshot(memberID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Member:      r.members[memberID],
		Transitions: append([]Transition(nil), r.transitions[memberID]...),
		Periods:     append([]Period(nil), r.periods[memberID]...),
	}
	return snap.Clone()
}

func (r *memoryRepository) LoadMember(_ context.Context, memberID string) (MemberState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return MemberState{}, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	return m, nil
}

func (r *memoryRepository) LoadTransitions(_ context.Context, memberID string) ([]Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Transition(nil), r.transitions[memberID]...)
	sortTransitions(out)
	return out, nil
}

func (r *memoryRepository) LoadPeriods(_ context.Context, memberID string) ([]Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Periods: r.periods[memberID]}.Clone().Periods, nil
}

func (r *memoryRepository) MembersWithTransitionsBetween(_ context.Context, from, to time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, entries := range r.transitions {
		for _, e := range entries {
			if !e.EffectiveDate.Before(from) && !e.EffectiveDate.After(to) {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepository) WithMemberLock(ctx context.Context, memberID string, fn func(context.Context, TxRepository) error) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, err := r.LoadMember(ctx, memberID); err != nil {
		return err
	}
	tx := &memoryTx{staged: r.snapshot(memberID)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[memberID] = tx.staged.Member
	r.transitions[memberID] = tx.staged.Transitions
	r.periods[memberID] = tx.staged.Periods
	if tx.dirty {
		r.commits++
	}
	return nil
}

func (r *memoryRepository) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

type memoryTx struct {
	staged Snapshot
	dirty  bool
}

func (t *memoryTx) LoadMember(context.Context, string) (MemberState, error) {
	return t.staged.Member, nil
}

func (t *memoryTx) LoadTransitions(context.Context, string) ([]Transition, error) {
	return append([]Transition(nil), t.staged.Transitions...), nil
}

func (t *memoryTx) LoadPeriods(context.Context, string) ([]Period, error) {
	return Snapshot{Periods: t.staged.Periods}.Clone().Periods, nil
}

func (t *memoryTx) SaveTransitions(_ context.Context, _ string, entries []Transition) error {
	t.staged.Transitions = append([]Transition(nil), entries...)
	t.dirty = true
	return nil
}

func (t *memoryTx) SavePeriods(_ context.Context, _ string, periods []Period) error {
	t.staged.Periods = Snapshot{Periods: periods}.Clone().Periods
	t.dirty = true
	return nil
}

func (t *memoryTx) SaveMemberState(_ context.Context, state MemberState, expectedVersion int64) error {
	if t.staged.Member.TimelineVersion != expectedVersion {
		return fmt.Errorf("%w: member %s", ErrConcurrentModification, state.ID)
	}
	t.staged.Member = state
	t.dirty = true
	return nil
}

type staticTypes struct {
	def   string
	known map[string]bool
}

func newStaticTypes(def string, ids ...string) staticTypes {
	known := map[string]bool{def: true}
	for _, id := range ids {
		known[id] = true
	}
	return staticTypes{def: def, known: known}
}

func (s staticTypes) DefaultMembershipType(context.Context) (string, error) {
	return s.def, nil
}

func (s staticTypes) MembershipTypeExists(_ context.Context, id string) (bool, error) {
	return s.known[id], nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingObserver struct {
	mu        sync.Mutex
	committed []string
	plans     int
	knockOn   int
	conflicts []string
}

func (o *recordingObserver) TransitionCommitted(to Status, kind Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed = append(o.committed, string(to)+"/"+string(kind))
}

func (o *recordingObserver) PlanComputed(_, hasChanges bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans++
	if hasChanges {
		o.knockOn++
	}
}

func (o *recordingObserver) Conflict(operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, operation)
}
