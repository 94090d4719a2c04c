package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clubroster/clubroster/internal/shared"
)

// SnapshotLoader reads one member's lifecycle data.
type SnapshotLoader interface {
	LoadMember(ctx context.Context, memberID string) (MemberState, error)
	LoadTransitions(ctx context.Context, memberID string) ([]Transition, error)
	LoadPeriods(ctx context.Context, memberID string) ([]Period, error)
}

// Repository is the persistence port consumed by the engine.
type Repository interface {
	SnapshotLoader
	// WithMemberLock runs fn inside a transaction holding the member's exclusive lock.
	WithMemberLock(ctx context.Context, memberID string, fn func(context.Context, TxRepository) error) error
	// MembersWithTransitionsBetween lists members having entries effective in [from, to].
	MembersWithTransitionsBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// TxRepository exposes the operations valid while a member lock is held.
// Save methods replace the member's full set of rows.
type TxRepository interface {
	SnapshotLoader
	SaveTransitions(ctx context.Context, memberID string, entries []Transition) error
	SavePeriods(ctx context.Context, memberID string, periods []Period) error
	// SaveMemberState writes state if the stored version still equals expectedVersion,
	// otherwise it returns ErrConcurrentModification.
	SaveMemberState(ctx context.Context, state MemberState, expectedVersion int64) error
}

// Locker guards member commits across processes.
type Locker interface {
	Acquire(ctx context.Context, memberID string) (func(context.Context) error, error)
}

// TypeCatalog resolves membership types.
type TypeCatalog interface {
	DefaultMembershipType(ctx context.Context) (string, error)
	MembershipTypeExists(ctx context.Context, id string) (bool, error)
}

// AuditRecorder persists audit rows for committed changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives lifecycle instrumentation events.
type Observer interface {
	TransitionCommitted(to Status, kind Kind)
	PlanComputed(outOfOrder, hasChanges bool)
	Conflict(operation string)
}

// Dependencies groups the optional collaborators of the engine.
type Dependencies struct {
	Locker   Locker
	Types    TypeCatalog
	Cache    *StatusCache
	Audit    AuditRecorder
	Observer Observer
	Logger   *slog.Logger
}

// TransitionRequest asks for a status change effective on EffectiveDate (zero means today).
type TransitionRequest struct {
	MemberID         string
	ToStatus         Status
	Kind             Kind
	Reason           string
	LeftCategory     LeftCategory
	MembershipTypeID string
	EffectiveDate    time.Time
	ActorID          string
	ExpectedVersion  *int64
}

// TypeChangeRequest switches the membership type of the period covering EffectiveDate.
type TypeChangeRequest struct {
	MemberID         string
	MembershipTypeID string
	Reason           string
	EffectiveDate    time.Time
	ActorID          string
	ExpectedVersion  *int64
}

// EditRequest rewrites fields of a recorded transition. Nil fields keep their value.
type EditRequest struct {
	MemberID         string
	TransitionID     string
	ToStatus         *Status
	Kind             *Kind
	Reason           *string
	LeftCategory     *LeftCategory
	MembershipTypeID *string
	EffectiveDate    *time.Time
	ActorID          string
	ExpectedVersion  *int64
}

// RevokeRequest removes a recorded transition.
type RevokeRequest struct {
	MemberID        string
	TransitionID    string
	Reason          string
	ActorID         string
	ExpectedVersion *int64
}

// PeriodRequest creates a period by hand.
type PeriodRequest struct {
	MemberID         string
	JoinDate         time.Time
	LeaveDate        *time.Time
	MembershipTypeID string
	Notes            string
	ActorID          string
}

// TransitionResult reports a committed change.
type TransitionResult struct {
	Transition Transition
	Plan       Plan
	Member     MemberState
}

var (
	errAlreadyApplied = errors.New("lifecycle: plan already applied")
	periodNamespace   = uuid.MustParse("7d3c2a9e-41f5-4b8a-9c62-0e5f1b7a3d84")
)

// Engine is the public entry point of the member lifecycle.
type Engine struct {
	graph    *Graph
	repo     Repository
	locker   Locker
	types    TypeCatalog
	cache    *StatusCache
	audit    AuditRecorder
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewEngine constructs an Engine.
func NewEngine(graph *Graph, repo Repository, deps Dependencies) *Engine {
	if graph == nil {
		graph = NewGraph()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Engine{
		graph:    graph,
		repo:     repo,
		locker:   deps.Locker,
		types:    deps.Types,
		cache:    deps.Cache,
		audit:    deps.Audit,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// WithIDs overrides identifier generation for deterministic tests.
func (e *Engine) WithIDs(newID func() string) {
	if newID != nil {
		e.newID = newID
	}
}

// Graph exposes the status graph the engine validates against.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// RequestTransition validates and commits a status transition.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return e.commitPlan(ctx, req.MemberID, "transition", req.ActorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		if err := checkVersion(snap, req.ExpectedVersion); err != nil {
			return Plan{}, err
		}
		change, err := e.buildInsert(ctx, snap, req)
		if err != nil {
			return Plan{}, err
		}
		return e.recalculate(ctx, snap, change)
	})
}

// PreviewTransition computes the plan RequestTransition would commit. It takes no lock.
func (e *Engine) PreviewTransition(ctx context.Context, req TransitionRequest) (Plan, error) {
	return e.preview(ctx, req.MemberID, func(ctx context.Context, snap Snapshot) (Change, error) {
		return e.buildInsert(ctx, snap, req)
	})
}

// ChangeMembershipType records an explicit type change for the period covering the date.
func (e *Engine) ChangeMembershipType(ctx context.Context, req TypeChangeRequest) (TransitionResult, error) {
	return e.commitPlan(ctx, req.MemberID, "type_change", req.ActorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		if err := checkVersion(snap, req.ExpectedVersion); err != nil {
			return Plan{}, err
		}
		change, err := e.buildTypeChange(ctx, snap, req)
		if err != nil {
			return Plan{}, err
		}
		return e.recalculate(ctx, snap, change)
	})
}

// PreviewMembershipType computes the plan ChangeMembershipType would commit.
func (e *Engine) PreviewMembershipType(ctx context.Context, req TypeChangeRequest) (Plan, error) {
	return e.preview(ctx, req.MemberID, func(ctx context.Context, snap Snapshot) (Change, error) {
		return e.buildTypeChange(ctx, snap, req)
	})
}

// EditTransition rewrites a recorded transition and recalculates the chain.
func (e *Engine) EditTransition(ctx context.Context, req EditRequest) (TransitionResult, error) {
	return e.commitPlan(ctx, req.MemberID, "edit", req.ActorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		if err := checkVersion(snap, req.ExpectedVersion); err != nil {
			return Plan{}, err
		}
		change, err := e.buildEdit(ctx, snap, req)
		if err != nil {
			return Plan{}, err
		}
		return e.recalculate(ctx, snap, change)
	})
}

// PreviewEdit computes the plan EditTransition would commit.
func (e *Engine) PreviewEdit(ctx context.Context, req EditRequest) (Plan, error) {
	return e.preview(ctx, req.MemberID, func(ctx context.Context, snap Snapshot) (Change, error) {
		return e.buildEdit(ctx, snap, req)
	})
}

// RevokeTransition deletes a recorded transition and recalculates the chain.
func (e *Engine) RevokeTransition(ctx context.Context, req RevokeRequest) (TransitionResult, error) {
	return e.commitPlan(ctx, req.MemberID, "revoke", req.ActorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		if err := checkVersion(snap, req.ExpectedVersion); err != nil {
			return Plan{}, err
		}
		return e.recalculate(ctx, snap, Change{Kind: ChangeDelete, TransitionID: req.TransitionID})
	})
}

// PreviewRevoke computes the plan RevokeTransition would commit.
func (e *Engine) PreviewRevoke(ctx context.Context, req RevokeRequest) (Plan, error) {
	return e.preview(ctx, req.MemberID, func(ctx context.Context, snap Snapshot) (Change, error) {
		return Change{Kind: ChangeDelete, TransitionID: req.TransitionID}, nil
	})
}

// ApplyPlan commits a previewed plan. The timeline must still be at plan.BaseVersion;
// re-applying a plan whose result is already stored succeeds without writing.
func (e *Engine) ApplyPlan(ctx context.Context, plan Plan, actorID string) (TransitionResult, error) {
	if plan.MemberID == "" {
		return TransitionResult{}, ErrMemberNotFound
	}
	return e.commitPlan(ctx, plan.MemberID, "apply", actorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		if snap.Member.TimelineVersion != plan.BaseVersion {
			if timelineEqual(snap, Snapshot{Transitions: plan.Transitions, Periods: plan.Periods}) {
				return plan, errAlreadyApplied
			}
			return Plan{}, fmt.Errorf("%w: plan built on version %d, timeline at %d", ErrConcurrentModification, plan.BaseVersion, snap.Member.TimelineVersion)
		}
		change, err := e.rebuildChange(ctx, snap, plan.Change, actorID)
		if err != nil {
			return Plan{}, err
		}
		return e.recalculate(ctx, snap, change)
	})
}

// CreatePeriod adds a period by hand.
func (e *Engine) CreatePeriod(ctx context.Context, req PeriodRequest) (Period, error) {
	return e.commitLedger(ctx, req.MemberID, "period_create", req.ActorID, func(ctx context.Context, l *Ledger) (Period, error) {
		typeID, err := e.resolveType(ctx, req.MembershipTypeID)
		if err != nil {
			return Period{}, err
		}
		return l.Create(req.JoinDate, req.LeaveDate, typeID, req.Notes)
	})
}

// ClosePeriod sets the leave date of an open period.
func (e *Engine) ClosePeriod(ctx context.Context, memberID, periodID string, leaveDate time.Time, actorID string) (Period, error) {
	return e.commitLedger(ctx, memberID, "period_close", actorID, func(_ context.Context, l *Ledger) (Period, error) {
		return l.Close(periodID, leaveDate)
	})
}

// ReopenPeriod clears the leave date of a closed period.
func (e *Engine) ReopenPeriod(ctx context.Context, memberID, periodID, actorID string) (Period, error) {
	return e.commitLedger(ctx, memberID, "period_reopen", actorID, func(_ context.Context, l *Ledger) (Period, error) {
		return l.Reopen(periodID)
	})
}

// GetCurrentStatus derives the member status on asOf (zero means today).
func (e *Engine) GetCurrentStatus(ctx context.Context, memberID string, asOf time.Time) (Status, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}
	day := Day(asOf)
	member, err := e.repo.LoadMember(ctx, memberID)
	if err != nil {
		return "", err
	}
	return e.cache.Fetch(ctx, memberID, member.TimelineVersion, day, func(ctx context.Context) (Status, error) {
		entries, err := e.repo.LoadTransitions(ctx, memberID)
		if err != nil {
			return "", err
		}
		return NewLog(e.graph, member.InitialStatus, entries).StatusAsOf(day), nil
	})
}

// RefreshCurrentStatus rewrites the stored current status when the derived one moved,
// which happens when a future-dated transition becomes effective.
func (e *Engine) RefreshCurrentStatus(ctx context.Context, memberID string) (Status, bool, error) {
	var (
		status  Status
		changed bool
	)
	err := e.repo.WithMemberLock(ctx, memberID, func(ctx context.Context, tx TxRepository) error {
		snap, err := loadSnapshot(ctx, tx, memberID)
		if err != nil {
			return err
		}
		status = NewLog(e.graph, snap.Member.InitialStatus, snap.Transitions).StatusAsOf(e.today())
		if status == snap.Member.CurrentStatus {
			return nil
		}
		changed = true
		state := snap.Member
		state.CurrentStatus = status
		return tx.SaveMemberState(ctx, state, snap.Member.TimelineVersion)
	})
	if err != nil {
		return "", false, err
	}
	return status, changed, nil
}

// RefreshDue refreshes every member with transitions effective in [from, to] and
// returns how many stored statuses changed.
func (e *Engine) RefreshDue(ctx context.Context, from, to time.Time) (int, error) {
	ids, err := e.repo.MembersWithTransitionsBetween(ctx, Day(from), Day(to))
	if err != nil {
		return 0, err
	}
	var (
		updated int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		status, changed, err := e.RefreshCurrentStatus(ctx, id)
		if err != nil {
			e.logger.Warn("refresh member status", slog.String("member_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("member %s: %w", id, err))
			continue
		}
		if changed {
			updated++
			e.logger.Info("member status refreshed", slog.String("member_id", id), slog.String("status", string(status)))
		}
	}
	return updated, errors.Join(errs...)
}

type planBuilder func(ctx context.Context, snap Snapshot) (Plan, error)

func (e *Engine) commitPlan(ctx context.Context, memberID, operation, actorID string, build planBuilder) (TransitionResult, error) {
	plan, state, err := e.commit(ctx, memberID, operation, actorID, build)
	if err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Transition: plan.Entry, Plan: plan, Member: state}, nil
}

func (e *Engine) commitLedger(ctx context.Context, memberID, operation, actorID string, op func(context.Context, *Ledger) (Period, error)) (Period, error) {
	var period Period
	_, _, err := e.commit(ctx, memberID, operation, actorID, func(ctx context.Context, snap Snapshot) (Plan, error) {
		ledger := NewLedger(memberID, snap.Periods, e.now, e.newID)
		p, err := op(ctx, ledger)
		if err != nil {
			return Plan{}, err
		}
		if err := ledger.Validate(); err != nil {
			return Plan{}, err
		}
		today := e.today()
		status := NewLog(e.graph, snap.Member.InitialStatus, snap.Transitions).StatusAsOf(today)
		if err := checkCoverage(e.graph, ledger, status, today); err != nil {
			return Plan{}, err
		}
		period = p
		plan := Plan{
			MemberID:          memberID,
			BaseVersion:       snap.Member.TimelineVersion,
			FinalMemberStatus: status,
			Transitions:       snap.Transitions,
			Periods:           ledger.Periods(),
		}
		diffPeriods(&plan, snap.Periods, "")
		return plan, nil
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// commit runs build against a locked snapshot and writes the resulting plan.
func (e *Engine) commit(ctx context.Context, memberID, operation, actorID string, build planBuilder) (Plan, MemberState, error) {
	release, err := e.acquire(ctx, memberID)
	if err != nil {
		e.observer.Conflict(operation)
		return Plan{}, MemberState{}, err
	}
	defer release()

	var (
		plan  Plan
		state MemberState
		noop  bool
	)
	err = e.repo.WithMemberLock(ctx, memberID, func(ctx context.Context, tx TxRepository) error {
		snap, err := loadSnapshot(ctx, tx, memberID)
		if err != nil {
			return err
		}
		plan, err = build(ctx, snap)
		if errors.Is(err, errAlreadyApplied) {
			noop = true
			state = snap.Member
			return nil
		}
		if err != nil {
			return err
		}
		state, err = e.write(ctx, tx, snap, plan)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			e.observer.Conflict(operation)
		}
		return Plan{}, MemberState{}, err
	}
	if !noop {
		e.committed(ctx, operation, actorID, plan, state)
	}
	return plan, state, nil
}

func (e *Engine) write(ctx context.Context, tx TxRepository, snap Snapshot, plan Plan) (MemberState, error) {
	next, err := plan.Apply(snap)
	if err != nil {
		return MemberState{}, err
	}
	if err := tx.SaveTransitions(ctx, snap.Member.ID, next.Transitions); err != nil {
		return MemberState{}, fmt.Errorf("save transitions: %w", err)
	}
	if err := tx.SavePeriods(ctx, snap.Member.ID, next.Periods); err != nil {
		return MemberState{}, fmt.Errorf("save periods: %w", err)
	}
	state := next.Member
	state.TimelineVersion = snap.Member.TimelineVersion + 1
	if err := tx.SaveMemberState(ctx, state, snap.Member.TimelineVersion); err != nil {
		return MemberState{}, err
	}
	return state, nil
}

func (e *Engine) committed(ctx context.Context, operation, actorID string, plan Plan, state MemberState) {
	if plan.Entry.ID != "" && operation != "revoke" {
		e.observer.TransitionCommitted(plan.Entry.ToStatus, plan.Entry.Kind)
	}
	e.observer.PlanComputed(plan.OutOfOrder, plan.HasChanges)
	e.logger.Info("lifecycle change committed",
		slog.String("member_id", state.ID),
		slog.String("operation", operation),
		slog.Int64("version", state.TimelineVersion),
		slog.Bool("has_changes", plan.HasChanges),
	)
	if e.audit == nil {
		return
	}
	meta := map[string]any{
		"version":          state.TimelineVersion,
		"status":           string(state.CurrentStatus),
		"has_changes":      plan.HasChanges,
		"removed":          len(plan.RemovedTransitions),
		"restored":         len(plan.RestoredTransitions),
		"periods_created":  len(plan.CreatedPeriods),
		"periods_closed":   len(plan.ClosedPeriods),
		"periods_reopened": len(plan.ReopenedPeriods),
		"periods_deleted":  len(plan.DeletedPeriods),
	}
	if plan.Entry.ID != "" {
		meta["transition_id"] = plan.Entry.ID
	}
	err := e.audit.Record(context.WithoutCancel(ctx), shared.AuditLog{
		ActorID:  actorID,
		Action:   "lifecycle." + operation,
		Entity:   "member",
		EntityID: state.ID,
		Meta:     meta,
		At:       e.now(),
	})
	if err != nil {
		e.logger.Warn("record lifecycle audit", slog.String("member_id", state.ID), slog.Any("error", err))
	}
}

func (e *Engine) acquire(ctx context.Context, memberID string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	release, err := e.locker.Acquire(ctx, memberID)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, fmt.Errorf("%w: member %s is locked", ErrConcurrentModification, memberID)
		}
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("release member lock", slog.String("member_id", memberID), slog.Any("error", err))
		}
	}, nil
}

func (e *Engine) preview(ctx context.Context, memberID string, build func(context.Context, Snapshot) (Change, error)) (Plan, error) {
	snap, err := loadSnapshot(ctx, e.repo, memberID)
	if err != nil {
		return Plan{}, err
	}
	change, err := build(ctx, snap)
	if err != nil {
		return Plan{}, err
	}
	plan, err := e.recalculate(ctx, snap, change)
	if err != nil {
		return Plan{}, err
	}
	e.observer.PlanComputed(plan.OutOfOrder, plan.HasChanges)
	return plan, nil
}

func (e *Engine) recalculate(ctx context.Context, snap Snapshot, change Change) (Plan, error) {
	env := Env{
		Today:       e.today(),
		Now:         e.now,
		NewID:       e.newID,
		PeriodIDFor: periodIDFor,
	}
	if e.types != nil {
		id, err := e.types.DefaultMembershipType(ctx)
		if err != nil {
			return Plan{}, fmt.Errorf("default membership type: %w", err)
		}
		env.DefaultMembershipTypeID = id
	}
	return Recalculate(e.graph, snap, change, env)
}

func (e *Engine) buildInsert(ctx context.Context, snap Snapshot, req TransitionRequest) (Change, error) {
	date := e.today()
	if !req.EffectiveDate.IsZero() {
		date = Day(req.EffectiveDate)
	}
	entry := Transition{
		ID:               e.newID(),
		MemberID:         snap.Member.ID,
		ToStatus:         req.ToStatus,
		Reason:           req.Reason,
		LeftCategory:     req.LeftCategory,
		MembershipTypeID: req.MembershipTypeID,
		EffectiveDate:    date,
		ActorID:          req.ActorID,
		CreatedAt:        e.now(),
	}
	entry, err := e.prepareEntry(ctx, snap, entry, req.Kind)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeInsert, Entry: entry}, nil
}

func (e *Engine) buildTypeChange(ctx context.Context, snap Snapshot, req TypeChangeRequest) (Change, error) {
	if req.MembershipTypeID == "" {
		return Change{}, ErrUnknownMembershipType
	}
	date := e.today()
	if !req.EffectiveDate.IsZero() {
		date = Day(req.EffectiveDate)
	}
	entry := Transition{
		ID:               e.newID(),
		MemberID:         snap.Member.ID,
		Reason:           req.Reason,
		MembershipTypeID: req.MembershipTypeID,
		EffectiveDate:    date,
		ActorID:          req.ActorID,
		CreatedAt:        e.now(),
	}
	entry.ToStatus = e.statusBefore(snap, entry)
	if err := e.checkTypeChange(snap, entry); err != nil {
		return Change{}, err
	}
	entry, err := e.prepareEntry(ctx, snap, entry, KindTypeChange)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeInsert, Entry: entry}, nil
}

// checkTypeChange requires a period covering the entry's date with a different type.
func (e *Engine) checkTypeChange(snap Snapshot, entry Transition) error {
	covering, ok := NewLedger(snap.Member.ID, snap.Periods, e.now, e.newID).FindAt(entry.EffectiveDate)
	if !ok {
		return fmt.Errorf("%w: no period covers %s", ErrOpenPeriodMismatch, entry.EffectiveDate.Format(time.DateOnly))
	}
	if covering.MembershipTypeID == entry.MembershipTypeID {
		return ErrTypeUnchanged
	}
	return nil
}

// rebuildChange derives a submitted change again from its request fields, the way the
// matching request would. Kind, status and type are validated against snap; timestamps
// and the actor come from the engine.
func (e *Engine) rebuildChange(ctx context.Context, snap Snapshot, change Change, actorID string) (Change, error) {
	submitted := change.Entry
	switch change.Kind {
	case ChangeInsert:
		date := e.today()
		if !submitted.EffectiveDate.IsZero() {
			date = Day(submitted.EffectiveDate)
		}
		id := submitted.ID
		if id == "" {
			id = e.newID()
		}
		if indexOfTransition(snap.Transitions, id) >= 0 {
			return Change{}, fmt.Errorf("%w: transition %s", ErrDuplicateID, id)
		}
		entry := Transition{
			ID:               id,
			MemberID:         snap.Member.ID,
			ToStatus:         submitted.ToStatus,
			Reason:           submitted.Reason,
			LeftCategory:     submitted.LeftCategory,
			MembershipTypeID: submitted.MembershipTypeID,
			EffectiveDate:    date,
			ActorID:          actorID,
			CreatedAt:        e.now(),
		}
		if submitted.Kind == KindTypeChange {
			if err := e.checkTypeChange(snap, entry); err != nil {
				return Change{}, err
			}
		}
		entry, err := e.prepareEntry(ctx, snap, entry, submitted.Kind)
		if err != nil {
			return Change{}, err
		}
		return Change{Kind: ChangeInsert, Entry: entry}, nil
	case ChangeEdit:
		status, kind, reason := submitted.ToStatus, submitted.Kind, submitted.Reason
		category, typeID, date := submitted.LeftCategory, submitted.MembershipTypeID, submitted.EffectiveDate
		req := EditRequest{
			MemberID:         snap.Member.ID,
			TransitionID:     submitted.ID,
			ToStatus:         &status,
			Kind:             &kind,
			Reason:           &reason,
			LeftCategory:     &category,
			MembershipTypeID: &typeID,
			ActorID:          actorID,
		}
		if !date.IsZero() {
			req.EffectiveDate = &date
		}
		return e.buildEdit(ctx, snap, req)
	case ChangeDelete:
		if indexOfTransition(snap.Transitions, change.TransitionID) < 0 {
			return Change{}, ErrTransitionNotFound
		}
		return Change{Kind: ChangeDelete, TransitionID: change.TransitionID}, nil
	default:
		return Change{}, fmt.Errorf("lifecycle: unsupported change %q", change.Kind)
	}
}

func (e *Engine) buildEdit(ctx context.Context, snap Snapshot, req EditRequest) (Change, error) {
	idx := indexOfTransition(snap.Transitions, req.TransitionID)
	if idx < 0 {
		return Change{}, ErrTransitionNotFound
	}
	entry := snap.Transitions[idx]
	kind := entry.Kind
	if req.ToStatus != nil && *req.ToStatus != entry.ToStatus {
		entry.ToStatus = *req.ToStatus
		entry.LeftCategory = ""
		kind = ""
	}
	if req.Kind != nil {
		kind = *req.Kind
	}
	if req.Reason != nil {
		entry.Reason = *req.Reason
	}
	if req.LeftCategory != nil {
		entry.LeftCategory = *req.LeftCategory
	}
	if req.MembershipTypeID != nil {
		entry.MembershipTypeID = *req.MembershipTypeID
	}
	if req.EffectiveDate != nil {
		entry.EffectiveDate = Day(*req.EffectiveDate)
	}
	entry, err := e.prepareEntry(ctx, snap, entry, kind)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeEdit, Entry: entry}, nil
}

// prepareEntry resolves the named transition and defaults, then validates entry as if
// placed in the snapshot's log.
func (e *Engine) prepareEntry(ctx context.Context, snap Snapshot, entry Transition, kind Kind) (Transition, error) {
	if !e.graph.Known(entry.ToStatus) {
		return Transition{}, fmt.Errorf("%w: %s", ErrUnknownStatus, entry.ToStatus)
	}
	reason, err := NormalizeReason(entry.Reason)
	if err != nil {
		return Transition{}, err
	}
	entry.Reason = reason
	entry.EffectiveDate = Day(entry.EffectiveDate)
	entry.FromStatus = e.statusBefore(snap, entry)
	if !e.graph.CanTransition(entry.FromStatus, entry.ToStatus) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.FromStatus, entry.ToStatus)
	}
	nt, err := e.graph.resolveKind(kind, entry.FromStatus, entry.ToStatus)
	if err != nil {
		return Transition{}, err
	}
	entry.Kind = nt.Kind
	if entry.ToStatus == StatusLeft {
		if entry.LeftCategory == "" {
			entry.LeftCategory = nt.AutoLeftCategory
		}
		if !entry.LeftCategory.Valid() {
			return Transition{}, ErrMissingCategory
		}
	} else {
		entry.LeftCategory = ""
	}
	if entry.IsSelf() && entry.MembershipTypeID != "" && nt.Kind != KindTypeChange {
		return Transition{}, fmt.Errorf("%w: membership type changes need kind %s", ErrNamedTransitionMismatch, KindTypeChange)
	}
	if nt.Kind == KindTypeChange && entry.MembershipTypeID == "" {
		return Transition{}, ErrUnknownMembershipType
	}
	if entry.MembershipTypeID != "" {
		if _, err := e.resolveType(ctx, entry.MembershipTypeID); err != nil {
			return Transition{}, err
		}
	}
	return entry, nil
}

// statusBefore returns the status the member holds just before entry in log order.
func (e *Engine) statusBefore(snap Snapshot, entry Transition) Status {
	status := snap.Member.InitialStatus
	if status == "" {
		status = e.graph.Initial()
	}
	sorted := append([]Transition(nil), snap.Transitions...)
	sortTransitions(sorted)
	for _, t := range sorted {
		if t.ID == entry.ID {
			continue
		}
		if !transitionLess(t, entry) {
			break
		}
		status = t.ToStatus
	}
	return status
}

func (e *Engine) resolveType(ctx context.Context, id string) (string, error) {
	if e.types == nil {
		return id, nil
	}
	if id == "" {
		return e.types.DefaultMembershipType(ctx)
	}
	ok, err := e.types.MembershipTypeExists(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMembershipType, id)
	}
	return id, nil
}

func (e *Engine) today() time.Time {
	return Day(e.now())
}

func loadSnapshot(ctx context.Context, loader SnapshotLoader, memberID string) (Snapshot, error) {
	member, err := loader.LoadMember(ctx, memberID)
	if err != nil {
		return Snapshot{}, err
	}
	transitions, err := loader.LoadTransitions(ctx, memberID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load transitions: %w", err)
	}
	periods, err := loader.LoadPeriods(ctx, memberID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load periods: %w", err)
	}
	sortTransitions(transitions)
	sortPeriods(periods)
	return Snapshot{Member: member, Transitions: transitions, Periods: periods}, nil
}

func checkVersion(snap Snapshot, expected *int64) error {
	if expected == nil || *expected == snap.Member.TimelineVersion {
		return nil
	}
	return fmt.Errorf("%w: expected version %d, timeline at %d", ErrConcurrentModification, *expected, snap.Member.TimelineVersion)
}

// periodIDFor derives the identifier of a period opened by a transition, so a plan
// recomputed from the same snapshot produces the same rows.
func periodIDFor(transitionID string) string {
	return uuid.NewSHA1(periodNamespace, []byte(transitionID)).String()
}

// timelineEqual compares the persisted shape of two timelines.
func timelineEqual(a, b Snapshot) bool {
	if len(a.Transitions) != len(b.Transitions) || len(a.Periods) != len(b.Periods) {
		return false
	}
	at := append([]Transition(nil), a.Transitions...)
	bt := append([]Transition(nil), b.Transitions...)
	sortTransitions(at)
	sortTransitions(bt)
	for i := range at {
		x, y := at[i], bt[i]
		if x.ID != y.ID || x.FromStatus != y.FromStatus || x.ToStatus != y.ToStatus ||
			!x.EffectiveDate.Equal(y.EffectiveDate) || x.MembershipTypeID != y.MembershipTypeID ||
			x.LeftCategory != y.LeftCategory || x.Reason != y.Reason {
			return false
		}
	}
	ap := append([]Period(nil), a.Periods...)
	bp := append([]Period(nil), b.Periods...)
	sortPeriods(ap)
	sortPeriods(bp)
	for i := range ap {
		x, y := ap[i], bp[i]
		if x.ID != y.ID || !x.JoinDate.Equal(y.JoinDate) || x.MembershipTypeID != y.MembershipTypeID ||
			x.IsOpen() != y.IsOpen() || (!x.IsOpen() && !x.LeaveDate.Equal(*y.LeaveDate)) {
			return false
		}
	}
	return true
}

type noopObserver struct{}

func (noopObserver) TransitionCommitted(Status, Kind) {}
func (noopObserver) PlanComputed(bool, bool)          {}
func (noopObserver) Conflict(string)                  {}
