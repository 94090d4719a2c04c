package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubroster/clubroster/internal/shared"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(day string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = mustDay(day).Add(9 * time.Hour)
}

type engineFixture struct {
	engine   *Engine
	repo     *memoryRepository
	audit    *recordingAudit
	observer *recordingObserver
	clock    *testClock
}

func newEngineFixture(t *testing.T, today string, deps Dependencies, snaps ...Snapshot) engineFixture {
	t.Helper()
	repo := newMemoryRepository()
	for _, s := range snaps {
		repo.seed(s)
	}
	audit := &recordingAudit{}
	observer := &recordingObserver{}
	if deps.Types == nil {
		deps.Types = newStaticTypes("A", "B", "PASSIV", "ORDENTLICH")
	}
	deps.Audit = audit
	deps.Observer = observer
	engine := NewEngine(NewGraph(), repo, deps)
	clock := &testClock{}
	clock.Set(today)
	engine.WithNow(clock.Now)
	engine.WithIDs(sequenceIDs("t"))
	return engineFixture{engine: engine, repo: repo, audit: audit, observer: observer, clock: clock}
}

func pendingMember(id string) Snapshot {
	return Snapshot{Member: MemberState{ID: id, InitialStatus: StatusPending, CurrentStatus: StatusPending}}
}

func TestEngineRequestTransitionCommits(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()

	result, err := f.engine.RequestTransition(ctx, TransitionRequest{
		MemberID:      "m-1",
		ToStatus:      StatusLeft,
		LeftCategory:  LeftVoluntary,
		Reason:        "  moved away ",
		EffectiveDate: mustDay("2025-01-01"),
		ActorID:       "u-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "t-1", result.Transition.ID)
	assert.Equal(t, StatusActive, result.Transition.FromStatus)
	assert.Equal(t, KindResign, result.Transition.Kind)
	assert.Equal(t, "moved away", result.Transition.Reason)
	assert.Equal(t, StatusLeft, result.Member.CurrentStatus)
	assert.Equal(t, int64(2), result.Member.TimelineVersion)

	stored := f.repo.snapshot("m-1")
	assert.Equal(t, StatusLeft, stored.Member.CurrentStatus)
	require.Len(t, stored.Transitions, 2)
	require.Len(t, stored.Periods, 1)
	assert.Equal(t, mustDay("2025-01-01"), *stored.Periods[0].LeaveDate)
	require.NoError(t, NewLog(NewGraph(), StatusPending, stored.Transitions).Walk())

	assert.Equal(t, []string{"lifecycle.transition"}, f.audit.actions())
	assert.Equal(t, "u-1", f.audit.logs[0].ActorID)
	assert.Equal(t, "m-1", f.audit.logs[0].EntityID)
	assert.Equal(t, []string{"LEFT/RESIGN"}, f.observer.committed)
}

func TestEngineRejectsWithoutMutation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot(), pendingMember("m-2"))
	ctx := context.Background()

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, Reason: "gone"})
	require.True(t, errors.Is(err, ErrMissingCategory))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-2", ToStatus: StatusInactive, Reason: "pause"})
	require.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusInactive, Reason: ""})
	require.True(t, errors.Is(err, ErrReasonLength))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusInactive, Kind: KindResign, Reason: "pause"})
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusActive, MembershipTypeID: "B", Reason: "upgrade"})
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch), "type changes go through the explicit kind")

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-2", ToStatus: StatusActive, MembershipTypeID: "GOLD", Reason: "admitted"})
	require.True(t, errors.Is(err, ErrUnknownMembershipType))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-9", ToStatus: StatusActive, Reason: "admitted"})
	require.True(t, errors.Is(err, ErrMemberNotFound))

	assert.Equal(t, activeMemberSnapshot(), f.repo.snapshot("m-1"))
	assert.Equal(t, 0, f.repo.commitCount())
	assert.Empty(t, f.audit.actions())
}

func TestEngineNamedTransitionFillsCategory(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	result, err := f.engine.RequestTransition(context.Background(), TransitionRequest{
		MemberID: "m-1", ToStatus: StatusLeft, Kind: KindExclude, Reason: "board decision",
	})
	require.NoError(t, err)
	assert.Equal(t, LeftExclusion, result.Transition.LeftCategory)
	assert.Equal(t, mustDay("2025-01-15"), result.Transition.EffectiveDate)
}

func TestEngineExpectedVersion(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	stale := int64(0)
	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{
		MemberID: "m-1", ToStatus: StatusInactive, Reason: "pause", ExpectedVersion: &stale,
	})
	require.True(t, errors.Is(err, ErrConcurrentModification))
	assert.Equal(t, []string{"transition"}, f.observer.conflicts)

	current := int64(1)
	_, err = f.engine.RequestTransition(context.Background(), TransitionRequest{
		MemberID: "m-1", ToStatus: StatusInactive, Reason: "pause", ExpectedVersion: &current,
	})
	require.NoError(t, err)
}

func TestEngineFailsFastWhenMemberLocked(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewMemberLocker(client, time.Minute)

	f := newEngineFixture(t, "2025-01-15", Dependencies{Locker: locker}, activeMemberSnapshot())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "m-1")
	require.NoError(t, err)

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusInactive, Reason: "pause"})
	require.True(t, errors.Is(err, ErrConcurrentModification))
	assert.True(t, IsConsistencyError(err))
	assert.Equal(t, 0, f.repo.commitCount())

	require.NoError(t, release(ctx))
	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusInactive, Reason: "pause"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(shared.MemberLockKey("m-1")), "lock released after commit")
}

func TestEnginePreviewThenApply(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()
	req := TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "moved away", EffectiveDate: mustDay("2025-01-01")}

	plan, err := f.engine.PreviewTransition(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, f.repo.commitCount(), "preview never writes")
	assert.Equal(t, int64(1), plan.BaseVersion)

	result, err := f.engine.ApplyPlan(ctx, plan, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Member.TimelineVersion)

	stored := f.repo.snapshot("m-1")
	assert.True(t, timelineEqual(stored, Snapshot{Transitions: plan.Transitions, Periods: plan.Periods}))

	again, err := f.engine.ApplyPlan(ctx, plan, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Member.TimelineVersion)
	assert.Equal(t, 1, f.repo.commitCount())
	assert.Equal(t, []string{"lifecycle.apply"}, f.audit.actions())
}

func TestEngineApplyRejectsStalePlan(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()

	plan, err := f.engine.PreviewTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "moved away"})
	require.NoError(t, err)

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusInactive, Reason: "pause", EffectiveDate: mustDay("2024-12-01")})
	require.NoError(t, err)

	_, err = f.engine.ApplyPlan(ctx, plan, "u-1")
	require.True(t, errors.Is(err, ErrConcurrentModification))
	assert.Contains(t, f.observer.conflicts, "apply")

	_, err = f.engine.ApplyPlan(ctx, Plan{}, "u-1")
	require.True(t, errors.Is(err, ErrMemberNotFound))
}

func TestEngineChangeMembershipType(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()

	_, err := f.engine.ChangeMembershipType(ctx, TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "A", Reason: "same"})
	require.True(t, errors.Is(err, ErrTypeUnchanged))

	_, err = f.engine.ChangeMembershipType(ctx, TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "B", Reason: "early", EffectiveDate: mustDay("2024-01-01")})
	require.True(t, errors.Is(err, ErrOpenPeriodMismatch))

	_, err = f.engine.ChangeMembershipType(ctx, TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "GOLD", Reason: "upgrade"})
	require.True(t, errors.Is(err, ErrUnknownMembershipType))

	preview, err := f.engine.PreviewMembershipType(ctx, TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "B", Reason: "student", EffectiveDate: mustDay("2024-05-01")})
	require.NoError(t, err)
	require.Len(t, preview.CreatedPeriods, 1)

	result, err := f.engine.ChangeMembershipType(ctx, TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "B", Reason: "student", EffectiveDate: mustDay("2024-05-01")})
	require.NoError(t, err)
	assert.Equal(t, KindTypeChange, result.Transition.Kind)
	assert.True(t, result.Transition.IsSelf())
	assert.Equal(t, StatusActive, result.Member.CurrentStatus)

	stored := f.repo.snapshot("m-1")
	require.Len(t, stored.Periods, 2)
	assert.Equal(t, "A", stored.Periods[0].MembershipTypeID)
	assert.Equal(t, mustDay("2024-05-01"), *stored.Periods[0].LeaveDate)
	assert.Equal(t, "B", stored.Periods[1].MembershipTypeID)
	assert.True(t, stored.Periods[1].IsOpen())
	assert.Equal(t, periodIDFor(result.Transition.ID), stored.Periods[1].ID)
	assert.Equal(t, []string{"ACTIVE/TYPE_CHANGE"}, f.observer.committed)
}

func TestEngineEditAndRevoke(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()

	left, err := f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "moved away", EffectiveDate: mustDay("2025-01-01")})
	require.NoError(t, err)

	reason := "moved abroad"
	date := mustDay("2024-12-01")
	edited, err := f.engine.EditTransition(ctx, EditRequest{MemberID: "m-1", TransitionID: left.Transition.ID, Reason: &reason, EffectiveDate: &date})
	require.NoError(t, err)
	assert.Equal(t, "moved abroad", edited.Transition.Reason)
	assert.Equal(t, KindResign, edited.Transition.Kind)
	assert.Equal(t, date, *f.repo.snapshot("m-1").Periods[0].LeaveDate)

	missing := "missing"
	_, err = f.engine.EditTransition(ctx, EditRequest{MemberID: "m-1", TransitionID: missing, Reason: &reason})
	require.True(t, errors.Is(err, ErrTransitionNotFound))

	preview, err := f.engine.PreviewRevoke(ctx, RevokeRequest{MemberID: "m-1", TransitionID: left.Transition.ID})
	require.NoError(t, err)
	require.Len(t, preview.ReopenedPeriods, 1)

	revoked, err := f.engine.RevokeTransition(ctx, RevokeRequest{MemberID: "m-1", TransitionID: left.Transition.ID, Reason: "entered by mistake"})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, revoked.Member.CurrentStatus)
	assert.Equal(t, int64(4), revoked.Member.TimelineVersion)
	assert.True(t, f.repo.snapshot("m-1").Periods[0].IsOpen())

	_, err = f.engine.RevokeTransition(ctx, RevokeRequest{MemberID: "m-1", TransitionID: left.Transition.ID})
	require.True(t, errors.Is(err, ErrTransitionNotFound))

	assert.Equal(t, []string{"lifecycle.transition", "lifecycle.edit", "lifecycle.revoke"}, f.audit.actions())
	assert.Equal(t, []string{"LEFT/RESIGN", "LEFT/RESIGN"}, f.observer.committed)
}

func TestEngineManualPeriods(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot(), pendingMember("m-2"))
	ctx := context.Background()

	_, err := f.engine.CreatePeriod(ctx, PeriodRequest{MemberID: "m-1", JoinDate: mustDay("2024-06-01"), LeaveDate: dayRef("2024-08-01")})
	require.True(t, errors.Is(err, ErrOverlap))
	assert.Equal(t, activeMemberSnapshot(), f.repo.snapshot("m-1"))

	historic, err := f.engine.CreatePeriod(ctx, PeriodRequest{MemberID: "m-1", JoinDate: mustDay("2020-01-01"), LeaveDate: dayRef("2021-01-01"), Notes: "paper records"})
	require.NoError(t, err)
	assert.Equal(t, "A", historic.MembershipTypeID, "default type applied")
	assert.Equal(t, "paper records", historic.Notes)

	_, err = f.engine.CreatePeriod(ctx, PeriodRequest{MemberID: "m-2", JoinDate: mustDay("2024-01-01")})
	require.True(t, errors.Is(err, ErrOpenPeriodMismatch), "pending members hold no open period")

	_, err = f.engine.CreatePeriod(ctx, PeriodRequest{MemberID: "m-2", JoinDate: mustDay("2024-01-01"), MembershipTypeID: "GOLD"})
	require.True(t, errors.Is(err, ErrUnknownMembershipType))

	_, err = f.engine.ClosePeriod(ctx, "m-1", "p-1", mustDay("2024-05-01"), "u-1")
	require.True(t, errors.Is(err, ErrOpenPeriodMismatch), "active member must stay covered")

	_, err = f.engine.ClosePeriod(ctx, "m-1", historic.ID, mustDay("2024-05-01"), "u-1")
	require.True(t, errors.Is(err, ErrNotOpen))

	_, err = f.engine.ReopenPeriod(ctx, "m-1", "missing", "u-1")
	require.True(t, errors.Is(err, ErrPeriodNotFound))

	closed, err := f.engine.ClosePeriod(ctx, "m-1", "p-1", mustDay("2024-12-31"), "u-1")
	require.NoError(t, err)
	assert.Equal(t, mustDay("2024-12-31"), *closed.LeaveDate)

	reopened, err := f.engine.ReopenPeriod(ctx, "m-1", "p-1", "u-1")
	require.NoError(t, err)
	assert.True(t, reopened.IsOpen())

	member, err := f.repo.LoadMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), member.TimelineVersion)
	assert.Equal(t, []string{"lifecycle.period_create", "lifecycle.period_close", "lifecycle.period_reopen"}, f.audit.actions())
	assert.Empty(t, f.observer.committed)
}

func TestEngineRefreshDue(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot(), pendingMember("m-2"))
	ctx := context.Background()

	result, err := f.engine.RequestTransition(ctx, TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "notice given", EffectiveDate: mustDay("2024-07-01")})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, result.Member.CurrentStatus, "future leave not yet effective")

	status, err := f.engine.GetCurrentStatus(ctx, "m-1", mustDay("2024-07-01"))
	require.NoError(t, err)
	assert.Equal(t, StatusLeft, status)

	f.clock.Set("2024-07-02")
	updated, err := f.engine.RefreshDue(ctx, mustDay("2024-07-01"), mustDay("2024-07-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	member, err := f.repo.LoadMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, StatusLeft, member.CurrentStatus)
	assert.Equal(t, int64(2), member.TimelineVersion, "refresh does not bump the version")

	updated, err = f.engine.RefreshDue(ctx, mustDay("2024-07-01"), mustDay("2024-07-02"))
	require.NoError(t, err)
	assert.Zero(t, updated)

	status, err = f.engine.GetCurrentStatus(ctx, "m-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatusLeft, status)
}

func TestEngineConcurrentCommitsSerialise(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.ChangeMembershipType(ctx, TypeChangeRequest{
				MemberID: "m-1", MembershipTypeID: []string{"A", "B"}[i%2], Reason: "toggle", EffectiveDate: mustDay("2024-05-01"),
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			require.True(t, errors.Is(err, ErrTypeUnchanged), "unexpected error %v", err)
		}
	}
	stored := f.repo.snapshot("m-1")
	require.NoError(t, NewLog(NewGraph(), StatusPending, stored.Transitions).Walk())
	require.NoError(t, NewLedger("m-1", stored.Periods, time.Now, sequenceIDs("x")).Validate())
	assert.Equal(t, int64(1+f.repo.commitCount()), stored.Member.TimelineVersion)
}

func historicMemberSnapshot() Snapshot {
	admit := transition("t-admit", StatusPending, StatusActive, "2024-03-01")
	admit.MembershipTypeID = "ORDENTLICH"
	admit.Kind = KindAdmit
	historic := period("p-passiv", "2022-01-15", dayRef("2023-12-31"), "PASSIV")
	current := period("p-ordentlich", "2024-03-01", nil, "ORDENTLICH")
	current.OpenedBy = admit.ID
	return Snapshot{
		Member:      MemberState{ID: "m-1", InitialStatus: StatusPending, CurrentStatus: StatusActive, TimelineVersion: 3},
		Transitions: []Transition{admit},
		Periods:     []Period{historic, current},
	}
}

func TestEngineApplyMatchesDirectCommit(t *testing.T) {
	t.Parallel()

	moved := mustDay("2023-06-01")
	leave := TransitionRequest{MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "moved away", EffectiveDate: mustDay("2025-01-01"), ActorID: "u-1"}
	retype := TypeChangeRequest{MemberID: "m-1", MembershipTypeID: "B", Reason: "student", EffectiveDate: mustDay("2024-05-01"), ActorID: "u-1"}
	edit := EditRequest{MemberID: "m-1", TransitionID: "t-admit", EffectiveDate: &moved, ActorID: "u-1"}

	tests := []struct {
		name    string
		today   string
		snap    func() Snapshot
		preview func(context.Context, *Engine) (Plan, error)
		direct  func(context.Context, *Engine) (TransitionResult, error)
	}{
		{
			name:  "leave",
			today: "2025-01-15",
			snap:  activeMemberSnapshot,
			preview: func(ctx context.Context, e *Engine) (Plan, error) {
				return e.PreviewTransition(ctx, leave)
			},
			direct: func(ctx context.Context, e *Engine) (TransitionResult, error) {
				return e.RequestTransition(ctx, leave)
			},
		},
		{
			name:  "type change",
			today: "2024-06-01",
			snap:  activeMemberSnapshot,
			preview: func(ctx context.Context, e *Engine) (Plan, error) {
				return e.PreviewMembershipType(ctx, retype)
			},
			direct: func(ctx context.Context, e *Engine) (TransitionResult, error) {
				return e.ChangeMembershipType(ctx, retype)
			},
		},
		{
			name:  "edit into historic period",
			today: "2024-06-01",
			snap:  historicMemberSnapshot,
			preview: func(ctx context.Context, e *Engine) (Plan, error) {
				return e.PreviewEdit(ctx, edit)
			},
			direct: func(ctx context.Context, e *Engine) (TransitionResult, error) {
				return e.EditTransition(ctx, edit)
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			viaPlan := newEngineFixture(t, tc.today, Dependencies{}, tc.snap())
			direct := newEngineFixture(t, tc.today, Dependencies{}, tc.snap())

			plan, err := tc.preview(ctx, viaPlan.engine)
			require.NoError(t, err)
			applied, err := viaPlan.engine.ApplyPlan(ctx, plan, "u-1")
			require.NoError(t, err)
			committed, err := tc.direct(ctx, direct.engine)
			require.NoError(t, err)

			got, want := viaPlan.repo.snapshot("m-1"), direct.repo.snapshot("m-1")
			assert.True(t, timelineEqual(want, got), "applied %+v\ncommitted %+v", got, want)
			assert.True(t, timelineEqual(got, Snapshot{Transitions: plan.Transitions, Periods: plan.Periods}), "preview matches the stored timeline")
			assert.Equal(t, committed.Member, applied.Member)
			assert.Equal(t, committed.Plan.HasChanges, applied.Plan.HasChanges)
			assert.Equal(t, committed.Transition.ID, applied.Transition.ID)
		})
	}
}

func TestEngineApplyRebuildsSubmittedChange(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2025-01-15", Dependencies{}, activeMemberSnapshot(), pendingMember("m-2"))
	ctx := context.Background()

	plan, err := f.engine.PreviewTransition(ctx, TransitionRequest{
		MemberID: "m-1", ToStatus: StatusLeft, LeftCategory: LeftVoluntary, Reason: "moved away",
		EffectiveDate: mustDay("2025-01-01"), ActorID: "u-1",
	})
	require.NoError(t, err)

	bogusType := plan
	bogusType.Change.Entry.MembershipTypeID = "BOGUS"
	_, err = f.engine.ApplyPlan(ctx, bogusType, "u-1")
	require.True(t, errors.Is(err, ErrUnknownMembershipType))

	wrongKind := plan
	wrongKind.Change.Entry.Kind = KindAdmit
	_, err = f.engine.ApplyPlan(ctx, wrongKind, "u-1")
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch))

	duplicate := plan
	duplicate.Change.Entry.ID = "t-admit"
	_, err = f.engine.ApplyPlan(ctx, duplicate, "u-1")
	require.True(t, errors.Is(err, ErrDuplicateID))
	assert.True(t, IsValidationError(err))

	deleteMissing := plan
	deleteMissing.Change = Change{Kind: ChangeDelete, TransitionID: "missing"}
	_, err = f.engine.ApplyPlan(ctx, deleteMissing, "u-1")
	require.True(t, errors.Is(err, ErrTransitionNotFound))

	assert.Equal(t, activeMemberSnapshot(), f.repo.snapshot("m-1"))
	assert.Equal(t, 0, f.repo.commitCount())

	forged := plan
	forged.Change.Entry.ActorID = "forged"
	forged.Change.Entry.CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	forged.Change.Entry.FromStatus = StatusPending
	forged.Change.Entry.MemberID = "m-2"
	result, err := f.engine.ApplyPlan(ctx, forged, "u-2")
	require.NoError(t, err)
	assert.Equal(t, "u-2", result.Transition.ActorID)
	assert.Equal(t, f.clock.Now(), result.Transition.CreatedAt)
	assert.Equal(t, StatusActive, result.Transition.FromStatus)
	assert.Equal(t, "m-1", result.Transition.MemberID)

	stored := f.repo.snapshot("m-1")
	require.Len(t, stored.Transitions, 2)
	assert.Equal(t, "u-2", stored.Transitions[1].ActorID)
	assert.Empty(t, f.repo.snapshot("m-2").Transitions)
}

func TestEngineLeaveBeforeFutureClosure(t *testing.T) {
	t.Parallel()

	for _, to := range []Status{StatusLeft, StatusInactive} {
		to := to
		t.Run(string(to), func(t *testing.T) {
			t.Parallel()
			f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot())
			ctx := context.Background()

			_, err := f.engine.ClosePeriod(ctx, "m-1", "p-1", mustDay("2025-12-31"), "u-1")
			require.NoError(t, err)

			f.clock.Set("2025-01-15")
			req := TransitionRequest{MemberID: "m-1", ToStatus: to, Reason: "stepping back", EffectiveDate: mustDay("2025-01-10")}
			if to == StatusLeft {
				req.LeftCategory = LeftVoluntary
			}
			result, err := f.engine.RequestTransition(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, to, result.Member.CurrentStatus)

			stored := f.repo.snapshot("m-1")
			require.Len(t, stored.Periods, 1)
			assert.Equal(t, mustDay("2025-01-10"), *stored.Periods[0].LeaveDate)
			assert.Equal(t, result.Transition.ID, stored.Periods[0].ClosedBy)

			revoked, err := f.engine.RevokeTransition(ctx, RevokeRequest{MemberID: "m-1", TransitionID: result.Transition.ID, Reason: "entered by mistake"})
			require.NoError(t, err)
			assert.Equal(t, StatusActive, revoked.Member.CurrentStatus)

			stored = f.repo.snapshot("m-1")
			require.Len(t, stored.Periods, 1)
			assert.Equal(t, mustDay("2025-12-31"), *stored.Periods[0].LeaveDate)
			assert.Empty(t, stored.Periods[0].ClosedBy)
			assert.Nil(t, stored.Periods[0].PriorLeaveDate)
		})
	}
}
