package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// TimelineEventKind classifies timeline rows.
type TimelineEventKind string

const (
	EventPeriodEnd   TimelineEventKind = "PERIOD_END"
	EventTransition  TimelineEventKind = "TRANSITION"
	EventPeriodStart TimelineEventKind = "PERIOD_START"
)

var eventOrder = map[TimelineEventKind]int{
	EventPeriodEnd:   0,
	EventTransition:  1,
	EventPeriodStart: 2,
}

// TimelineEvent is one dated row of the merged member history.
type TimelineEvent struct {
	Date       time.Time
	Kind       TimelineEventKind
	Transition *Transition
	Period     *Period
}

// Timeline is the read projection of a member's transitions and periods.
type Timeline struct {
	Member      MemberState
	Status      Status
	Transitions []Transition
	Periods     []Period
	Events      []TimelineEvent
}

// BuildTimeline merges transitions and period boundaries into date order. On the same
// day period ends come first, then transitions, then period starts.
func BuildTimeline(graph *Graph, member MemberState, transitions []Transition, periods []Period, today time.Time) Timeline {
	log := NewLog(graph, member.InitialStatus, transitions)
	tl := Timeline{
		Member:      member,
		Status:      log.StatusAsOf(today),
		Transitions: log.Entries(),
	}
	tl.Periods = make([]Period, len(periods))
	for i, p := range periods {
		tl.Periods[i] = clonePeriod(p)
	}
	sortPeriods(tl.Periods)

	for i := range tl.Transitions {
		t := &tl.Transitions[i]
		tl.Events = append(tl.Events, TimelineEvent{Date: t.EffectiveDate, Kind: EventTransition, Transition: t})
	}
	for i := range tl.Periods {
		p := &tl.Periods[i]
		tl.Events = append(tl.Events, TimelineEvent{Date: p.JoinDate, Kind: EventPeriodStart, Period: p})
		if p.LeaveDate != nil {
			tl.Events = append(tl.Events, TimelineEvent{Date: *p.LeaveDate, Kind: EventPeriodEnd, Period: p})
		}
	}
	sort.SliceStable(tl.Events, func(i, j int) bool {
		a, b := tl.Events[i], tl.Events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return eventOrder[a.Kind] < eventOrder[b.Kind]
	})
	return tl
}

// timelineReadAttempts bounds how often GetTimeline rereads a timeline that changed
// while it was loading.
const timelineReadAttempts = 3

// GetTimeline loads the member's history concurrently and projects it. The member's
// timeline version is read before and after the history; a mismatch means a commit
// landed in between and the read starts over.
func (e *Engine) GetTimeline(ctx context.Context, memberID string) (Timeline, error) {
	for attempt := 1; ; attempt++ {
		before, err := e.repo.LoadMember(ctx, memberID)
		if err != nil {
			return Timeline{}, err
		}
		var (
			transitions []Transition
			periods     []Period
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			transitions, err = e.repo.LoadTransitions(gctx, memberID)
			return err
		})
		g.Go(func() error {
			var err error
			periods, err = e.repo.LoadPeriods(gctx, memberID)
			return err
		})
		if err := g.Wait(); err != nil {
			return Timeline{}, err
		}
		after, err := e.repo.LoadMember(ctx, memberID)
		if err != nil {
			return Timeline{}, err
		}
		if after.TimelineVersion == before.TimelineVersion {
			return BuildTimeline(e.graph, after, transitions, periods, e.today()), nil
		}
		if attempt == timelineReadAttempts {
			return Timeline{}, fmt.Errorf("%w: timeline of %s changed during %d reads", ErrConcurrentModification, memberID, attempt)
		}
		e.logger.Debug("timeline changed while loading", slog.String("member_id", memberID), slog.Int("attempt", attempt))
	}
}
