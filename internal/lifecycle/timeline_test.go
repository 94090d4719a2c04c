package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTimelineOrdersSameDayEvents(t *testing.T) {
	t.Parallel()

	admit := transition("t-admit", StatusPending, StatusActive, "2022-01-15")
	change := transition("t-change", StatusActive, StatusActive, "2024-03-01")
	change.Kind = KindTypeChange
	change.MembershipTypeID = "ORDENTLICH"
	passiv := period("p-passiv", "2022-01-15", dayRef("2024-03-01"), "PASSIV")
	ordentlich := period("p-ordentlich", "2024-03-01", nil, "ORDENTLICH")
	member := MemberState{ID: "m-1", InitialStatus: StatusPending, CurrentStatus: StatusActive, TimelineVersion: 2}

	tl := BuildTimeline(NewGraph(), member, []Transition{change, admit}, []Period{ordentlich, passiv}, mustDay("2024-06-01"))

	assert.Equal(t, StatusActive, tl.Status)
	assert.Equal(t, "t-admit", tl.Transitions[0].ID)
	assert.Equal(t, []string{"p-passiv", "p-ordentlich"}, periodIDs(tl.Periods))

	kinds := make([]TimelineEventKind, 0, len(tl.Events))
	for _, ev := range tl.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []TimelineEventKind{
		EventTransition,
		EventPeriodStart,
		EventPeriodEnd,
		EventTransition,
		EventPeriodStart,
	}, kinds)
	require.Len(t, tl.Events, 5)
	assert.Equal(t, "p-passiv", tl.Events[2].Period.ID)
	assert.Equal(t, "t-change", tl.Events[3].Transition.ID)
	assert.Equal(t, "p-ordentlich", tl.Events[4].Period.ID)
}

func TestEngineGetTimeline(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, "2024-06-01", Dependencies{}, activeMemberSnapshot())
	tl, err := f.engine.GetTimeline(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tl.Member.TimelineVersion)
	assert.Equal(t, StatusActive, tl.Status)
	require.Len(t, tl.Events, 2)
	assert.Equal(t, EventTransition, tl.Events[0].Kind)
	assert.Equal(t, EventPeriodStart, tl.Events[1].Kind)

	_, err = f.engine.GetTimeline(context.Background(), "m-404")
	require.ErrorIs(t, err, ErrMemberNotFound)
}

// movingRepository bumps the member's version while the history is being read, the
// way a commit landing between the queries would.
type movingRepository struct {
	*memoryRepository
	bumps atomic.Int32
}

func (r *movingRepository) LoadTransitions(ctx context.Context, memberID string) ([]Transition, error) {
	if r.bumps.Add(-1) >= 0 {
		r.mu.Lock()
		m := r.members[memberID]
		m.TimelineVersion++
		r.members[memberID] = m
		r.mu.Unlock()
	}
	return r.memoryRepository.LoadTransitions(ctx, memberID)
}

func TestEngineGetTimelineRereadsMovingTimeline(t *testing.T) {
	t.Parallel()

	newEngine := func(bumps int32) *Engine {
		repo := &movingRepository{memoryRepository: newMemoryRepository()}
		repo.seed(activeMemberSnapshot())
		repo.bumps.Store(bumps)
		return NewEngine(NewGraph(), repo, Dependencies{Types: newStaticTypes("A")})
	}

	tl, err := newEngine(1).GetTimeline(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tl.Member.TimelineVersion)
	assert.Len(t, tl.Events, 2)

	_, err = newEngine(timelineReadAttempts).GetTimeline(context.Background(), "m-1")
	require.ErrorIs(t, err, ErrConcurrentModification)
}
