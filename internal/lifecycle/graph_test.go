package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphEdges(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusLeft, true},
		{StatusPending, StatusInactive, false},
		{StatusActive, StatusInactive, true},
		{StatusActive, StatusLeft, true},
		{StatusActive, StatusPending, false},
		{StatusInactive, StatusActive, true},
		{StatusLeft, StatusActive, false},
		{StatusActive, StatusActive, true},
		{StatusLeft, StatusLeft, true},
		{Status("ARCHIVED"), StatusActive, false},
		{Status("ARCHIVED"), Status("ARCHIVED"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, g.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.Equal(t, StatusPending, g.Initial())
	assert.Equal(t, []Status{StatusActive, StatusLeft}, g.AllowedTransitions(StatusPending))
	assert.Empty(t, g.AllowedTransitions(StatusLeft))
	assert.Equal(t, []Status{StatusActive, StatusInactive, StatusLeft, StatusPending}, g.Statuses())
}

func TestGraphTerminalAndDestructive(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	assert.True(t, g.IsTerminal(StatusLeft))
	assert.False(t, g.IsTerminal(StatusActive))
	assert.False(t, g.IsTerminal(Status("ARCHIVED")))
	assert.True(t, g.IsDestructive(StatusLeft))
	assert.False(t, g.IsDestructive(StatusInactive))
}

func TestGraphPeriodStatuses(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	assert.True(t, g.RequiresPeriod(StatusActive))
	assert.False(t, g.RequiresPeriod(StatusInactive))

	g = NewGraph(WithPeriodStatuses(StatusActive, StatusInactive))
	assert.True(t, g.RequiresPeriod(StatusInactive))
	assert.False(t, g.RequiresPeriod(StatusPending))
}

func TestParseStatuses(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	statuses, err := g.ParseStatuses(" active, inactive ,,")
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusActive, StatusInactive}, statuses)

	_, err = g.ParseStatuses("ACTIVE,dormant")
	require.True(t, errors.Is(err, ErrUnknownStatus))
}

func TestNamedTransitions(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	left := g.NamedFor(StatusLeft)
	require.Len(t, left, 3)
	assert.Equal(t, KindDeceased, left[0].Kind)
	assert.Equal(t, LeftDeath, left[0].AutoLeftCategory)
	assert.Equal(t, KindExclude, left[1].Kind)
	assert.Equal(t, LeftExclusion, left[1].AutoLeftCategory)
	assert.Equal(t, KindResign, left[2].Kind)
	assert.Empty(t, left[2].AutoLeftCategory)
	for _, nt := range left {
		assert.True(t, nt.Destructive)
	}

	nt, ok := g.Named(KindTypeChange)
	require.True(t, ok)
	assert.Empty(t, nt.Target)
	_, ok = g.Named(Kind("PROMOTE"))
	assert.False(t, ok)
}

func TestDefaultKind(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	assert.Equal(t, KindAdmit, g.DefaultKind(StatusPending, StatusActive))
	assert.Equal(t, KindActivate, g.DefaultKind(StatusInactive, StatusActive))
	assert.Equal(t, KindDeactivate, g.DefaultKind(StatusActive, StatusInactive))
	assert.Equal(t, KindResign, g.DefaultKind(StatusActive, StatusLeft))
	assert.Equal(t, Kind(""), g.DefaultKind(StatusActive, StatusActive))
}

func TestResolveKind(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	nt, err := g.resolveKind("", StatusActive, StatusLeft)
	require.NoError(t, err)
	assert.Equal(t, KindResign, nt.Kind)

	nt, err = g.resolveKind(KindExclude, StatusActive, StatusLeft)
	require.NoError(t, err)
	assert.Equal(t, LeftExclusion, nt.AutoLeftCategory)

	_, err = g.resolveKind(KindExclude, StatusActive, StatusInactive)
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch))

	_, err = g.resolveKind(KindTypeChange, StatusActive, StatusInactive)
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch))

	nt, err = g.resolveKind(KindTypeChange, StatusActive, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, nt.Target)

	_, err = g.resolveKind(Kind("PROMOTE"), StatusPending, StatusActive)
	require.True(t, errors.Is(err, ErrNamedTransitionMismatch))

	nt, err = g.resolveKind("", StatusActive, StatusActive)
	require.NoError(t, err)
	assert.Empty(t, nt.Kind)
}
