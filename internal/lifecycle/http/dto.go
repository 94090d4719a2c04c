package lifecyclehttp

import (
	"fmt"
	"time"

	"github.com/clubroster/clubroster/internal/lifecycle"
)

type transitionPayload struct {
	ToStatus         string `json:"to_status" validate:"required,max=32"`
	Kind             string `json:"kind" validate:"omitempty,max=32"`
	Reason           string `json:"reason" validate:"required"`
	LeftCategory     string `json:"left_category" validate:"omitempty,oneof=VOLUNTARY EXCLUSION DEATH OTHER"`
	MembershipTypeID string `json:"membership_type_id" validate:"omitempty,max=64"`
	EffectiveDate    string `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	ExpectedVersion  *int64 `json:"expected_version"`
}

type editPayload struct {
	ToStatus         *string `json:"to_status" validate:"omitempty,max=32"`
	Kind             *string `json:"kind" validate:"omitempty,max=32"`
	Reason           *string `json:"reason"`
	LeftCategory     *string `json:"left_category" validate:"omitempty,oneof=VOLUNTARY EXCLUSION DEATH OTHER"`
	MembershipTypeID *string `json:"membership_type_id" validate:"omitempty,max=64"`
	EffectiveDate    *string `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	ExpectedVersion  *int64  `json:"expected_version"`
}

type revokePayload struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type typeChangePayload struct {
	MembershipTypeID string `json:"membership_type_id" validate:"required,max=64"`
	Reason           string `json:"reason" validate:"required"`
	EffectiveDate    string `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	ExpectedVersion  *int64 `json:"expected_version"`
}

type periodPayload struct {
	JoinDate         string `json:"join_date" validate:"required,datetime=2006-01-02"`
	LeaveDate        string `json:"leave_date" validate:"omitempty,datetime=2006-01-02"`
	MembershipTypeID string `json:"membership_type_id" validate:"omitempty,max=64"`
	Notes            string `json:"notes" validate:"max=1000"`
}

type closePayload struct {
	LeaveDate string `json:"leave_date" validate:"required,datetime=2006-01-02"`
}

type transitionDTO struct {
	ID               string    `json:"id"`
	MemberID         string    `json:"member_id"`
	FromStatus       string    `json:"from_status"`
	ToStatus         string    `json:"to_status"`
	Reason           string    `json:"reason"`
	LeftCategory     string    `json:"left_category,omitempty"`
	Kind             string    `json:"kind,omitempty"`
	MembershipTypeID string    `json:"membership_type_id,omitempty"`
	EffectiveDate    string    `json:"effective_date"`
	ActorID          string    `json:"actor_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type periodDTO struct {
	ID               string    `json:"id"`
	MemberID         string    `json:"member_id"`
	JoinDate         string    `json:"join_date"`
	LeaveDate        *string   `json:"leave_date"`
	MembershipTypeID string    `json:"membership_type_id,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	OpenedBy         string    `json:"opened_by,omitempty"`
	ClosedBy         string    `json:"closed_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type restoredDTO struct {
	Transition   transitionDTO `json:"transition"`
	PreviousFrom string        `json:"previous_from"`
}

type changeDTO struct {
	Kind         string         `json:"kind"`
	Entry        *transitionDTO `json:"entry,omitempty"`
	TransitionID string         `json:"transition_id,omitempty"`
}

// planDTO is the wire form of a plan. Clients post it back unchanged to apply it.
type planDTO struct {
	MemberID            string          `json:"member_id"`
	BaseVersion         int64           `json:"base_version"`
	Change              changeDTO       `json:"change"`
	Entry               *transitionDTO  `json:"entry,omitempty"`
	OutOfOrder          bool            `json:"out_of_order"`
	HasChanges          bool            `json:"has_changes"`
	RemovedTransitions  []transitionDTO `json:"removed_transitions"`
	RestoredTransitions []restoredDTO   `json:"restored_transitions"`
	CreatedPeriods      []periodDTO     `json:"created_periods"`
	ClosedPeriods       []periodDTO     `json:"closed_periods"`
	ReopenedPeriods     []periodDTO     `json:"reopened_periods"`
	DeletedPeriods      []periodDTO     `json:"deleted_periods"`
	AdjustedPeriods     []periodDTO     `json:"adjusted_periods"`
	FinalMemberStatus   string          `json:"final_member_status"`
	Transitions         []transitionDTO `json:"transitions"`
	Periods             []periodDTO     `json:"periods"`
}

type resultDTO struct {
	Transition      *transitionDTO `json:"transition,omitempty"`
	Plan            planDTO        `json:"plan"`
	CurrentStatus   string         `json:"current_status"`
	TimelineVersion int64          `json:"timeline_version"`
}

type timelineEventDTO struct {
	Date       string         `json:"date"`
	Kind       string         `json:"kind"`
	Transition *transitionDTO `json:"transition,omitempty"`
	Period     *periodDTO     `json:"period,omitempty"`
}

type timelineDTO struct {
	MemberID        string             `json:"member_id"`
	Status          string             `json:"status"`
	TimelineVersion int64              `json:"timeline_version"`
	Transitions     []transitionDTO    `json:"transitions"`
	Periods         []periodDTO        `json:"periods"`
	Events          []timelineEventDTO `json:"events"`
}

type namedTransitionDTO struct {
	Kind             string `json:"kind"`
	Target           string `json:"target,omitempty"`
	Action           string `json:"action"`
	Destructive      bool   `json:"destructive"`
	AutoLeftCategory string `json:"auto_left_category,omitempty"`
}

type graphStatusDTO struct {
	Status         string               `json:"status"`
	Allowed        []string             `json:"allowed"`
	Terminal       bool                 `json:"terminal"`
	Destructive    bool                 `json:"destructive"`
	RequiresPeriod bool                 `json:"requires_period"`
	Named          []namedTransitionDTO `json:"named"`
}

func formatDay(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseOptionalDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return lifecycle.ParseDay(value)
}

func toTransitionDTO(t lifecycle.Transition) transitionDTO {
	return transitionDTO{
		ID:               t.ID,
		MemberID:         t.MemberID,
		FromStatus:       string(t.FromStatus),
		ToStatus:         string(t.ToStatus),
		Reason:           t.Reason,
		LeftCategory:     string(t.LeftCategory),
		Kind:             string(t.Kind),
		MembershipTypeID: t.MembershipTypeID,
		EffectiveDate:    formatDay(t.EffectiveDate),
		ActorID:          t.ActorID,
		CreatedAt:        t.CreatedAt,
	}
}

func fromTransitionDTO(d transitionDTO) (lifecycle.Transition, error) {
	date, err := lifecycle.ParseDay(d.EffectiveDate)
	if err != nil {
		return lifecycle.Transition{}, fmt.Errorf("transition %s effective_date: %w", d.ID, err)
	}
	return lifecycle.Transition{
		ID:               d.ID,
		MemberID:         d.MemberID,
		FromStatus:       lifecycle.Status(d.FromStatus),
		ToStatus:         lifecycle.Status(d.ToStatus),
		Reason:           d.Reason,
		LeftCategory:     lifecycle.LeftCategory(d.LeftCategory),
		Kind:             lifecycle.Kind(d.Kind),
		MembershipTypeID: d.MembershipTypeID,
		EffectiveDate:    date,
		ActorID:          d.ActorID,
		CreatedAt:        d.CreatedAt,
	}, nil
}

func toPeriodDTO(p lifecycle.Period) periodDTO {
	out := periodDTO{
		ID:               p.ID,
		MemberID:         p.MemberID,
		JoinDate:         formatDay(p.JoinDate),
		MembershipTypeID: p.MembershipTypeID,
		Notes:            p.Notes,
		OpenedBy:         p.OpenedBy,
		ClosedBy:         p.ClosedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.LeaveDate != nil {
		leave := formatDay(*p.LeaveDate)
		out.LeaveDate = &leave
	}
	return out
}

func fromPeriodDTO(d periodDTO) (lifecycle.Period, error) {
	join, err := lifecycle.ParseDay(d.JoinDate)
	if err != nil {
		return lifecycle.Period{}, fmt.Errorf("period %s join_date: %w", d.ID, err)
	}
	p := lifecycle.Period{
		ID:               d.ID,
		MemberID:         d.MemberID,
		JoinDate:         join,
		MembershipTypeID: d.MembershipTypeID,
		Notes:            d.Notes,
		OpenedBy:         d.OpenedBy,
		ClosedBy:         d.ClosedBy,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.LeaveDate != nil {
		leave, err := lifecycle.ParseDay(*d.LeaveDate)
		if err != nil {
			return lifecycle.Period{}, fmt.Errorf("period %s leave_date: %w", d.ID, err)
		}
		p.LeaveDate = &leave
	}
	return p, nil
}

func mapTransitions(in []lifecycle.Transition) []transitionDTO {
	out := make([]transitionDTO, 0, len(in))
	for _, t := range in {
		out = append(out, toTransitionDTO(t))
	}
	return out
}

func mapPeriods(in []lifecycle.Period) []periodDTO {
	out := make([]periodDTO, 0, len(in))
	for _, p := range in {
		out = append(out, toPeriodDTO(p))
	}
	return out
}

func toPlanDTO(p lifecycle.Plan) planDTO {
	out := planDTO{
		MemberID:            p.MemberID,
		BaseVersion:         p.BaseVersion,
		Change:              changeDTO{Kind: string(p.Change.Kind), TransitionID: p.Change.TransitionID},
		OutOfOrder:          p.OutOfOrder,
		HasChanges:          p.HasChanges,
		RemovedTransitions:  mapTransitions(p.RemovedTransitions),
		RestoredTransitions: make([]restoredDTO, 0, len(p.RestoredTransitions)),
		CreatedPeriods:      mapPeriods(p.CreatedPeriods),
		ClosedPeriods:       mapPeriods(p.ClosedPeriods),
		ReopenedPeriods:     mapPeriods(p.ReopenedPeriods),
		DeletedPeriods:      mapPeriods(p.DeletedPeriods),
		AdjustedPeriods:     mapPeriods(p.AdjustedPeriods),
		FinalMemberStatus:   string(p.FinalMemberStatus),
		Transitions:         mapTransitions(p.Transitions),
		Periods:             mapPeriods(p.Periods),
	}
	if p.Change.Kind != lifecycle.ChangeDelete {
		entry := toTransitionDTO(p.Change.Entry)
		out.Change.Entry = &entry
	}
	if p.Entry.ID != "" {
		entry := toTransitionDTO(p.Entry)
		out.Entry = &entry
	}
	for _, r := range p.RestoredTransitions {
		out.RestoredTransitions = append(out.RestoredTransitions, restoredDTO{
			Transition:   toTransitionDTO(r.Transition),
			PreviousFrom: string(r.PreviousFrom),
		})
	}
	return out
}

// fromPlanDTO rebuilds the parts of a plan ApplyPlan relies on: identity, base version,
// change and resulting timeline.
func fromPlanDTO(d planDTO) (lifecycle.Plan, error) {
	plan := lifecycle.Plan{
		MemberID:          d.MemberID,
		BaseVersion:       d.BaseVersion,
		OutOfOrder:        d.OutOfOrder,
		HasChanges:        d.HasChanges,
		FinalMemberStatus: lifecycle.Status(d.FinalMemberStatus),
		Change: lifecycle.Change{
			Kind:         lifecycle.ChangeKind(d.Change.Kind),
			TransitionID: d.Change.TransitionID,
		},
	}
	switch plan.Change.Kind {
	case lifecycle.ChangeInsert, lifecycle.ChangeEdit:
		if d.Change.Entry == nil {
			return lifecycle.Plan{}, fmt.Errorf("change entry required for %s", plan.Change.Kind)
		}
		entry, err := fromTransitionDTO(*d.Change.Entry)
		if err != nil {
			return lifecycle.Plan{}, err
		}
		plan.Change.Entry = entry
	case lifecycle.ChangeDelete:
		if plan.Change.TransitionID == "" {
			return lifecycle.Plan{}, fmt.Errorf("transition_id required for %s", plan.Change.Kind)
		}
	default:
		return lifecycle.Plan{}, fmt.Errorf("unknown change kind %q", d.Change.Kind)
	}
	if d.Entry != nil {
		entry, err := fromTransitionDTO(*d.Entry)
		if err != nil {
			return lifecycle.Plan{}, err
		}
		plan.Entry = entry
	}
	for _, t := range d.Transitions {
		entry, err := fromTransitionDTO(t)
		if err != nil {
			return lifecycle.Plan{}, err
		}
		plan.Transitions = append(plan.Transitions, entry)
	}
	for _, p := range d.Periods {
		period, err := fromPeriodDTO(p)
		if err != nil {
			return lifecycle.Plan{}, err
		}
		plan.Periods = append(plan.Periods, period)
	}
	return plan, nil
}

func toResultDTO(r lifecycle.TransitionResult) resultDTO {
	out := resultDTO{
		Plan:            toPlanDTO(r.Plan),
		CurrentStatus:   string(r.Member.CurrentStatus),
		TimelineVersion: r.Member.TimelineVersion,
	}
	if r.Transition.ID != "" {
		t := toTransitionDTO(r.Transition)
		out.Transition = &t
	}
	return out
}

func toTimelineDTO(tl lifecycle.Timeline) timelineDTO {
	out := timelineDTO{
		MemberID:        tl.Member.ID,
		Status:          string(tl.Status),
		TimelineVersion: tl.Member.TimelineVersion,
		Transitions:     mapTransitions(tl.Transitions),
		Periods:         mapPeriods(tl.Periods),
		Events:          make([]timelineEventDTO, 0, len(tl.Events)),
	}
	for _, ev := range tl.Events {
		row := timelineEventDTO{Date: formatDay(ev.Date), Kind: string(ev.Kind)}
		if ev.Transition != nil {
			t := toTransitionDTO(*ev.Transition)
			row.Transition = &t
		}
		if ev.Period != nil {
			p := toPeriodDTO(*ev.Period)
			row.Period = &p
		}
		out.Events = append(out.Events, row)
	}
	return out
}

func toNamedDTO(nt lifecycle.NamedTransition) namedTransitionDTO {
	return namedTransitionDTO{
		Kind:             string(nt.Kind),
		Target:           string(nt.Target),
		Action:           nt.Action,
		Destructive:      nt.Destructive,
		AutoLeftCategory: string(nt.AutoLeftCategory),
	}
}
