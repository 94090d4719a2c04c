package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a named transition template.
type Kind string

const (
	KindAdmit      Kind = "ADMIT"
	KindActivate   Kind = "ACTIVATE"
	KindDeactivate Kind = "DEACTIVATE"
	KindResign     Kind = "RESIGN"
	KindExclude    Kind = "EXCLUDE"
	KindDeceased   Kind = "DECEASED"
	KindTypeChange Kind = "TYPE_CHANGE"
)

// NamedTransition describes a user-facing lifecycle action with defaulted metadata.
type NamedTransition struct {
	Kind             Kind
	Target           Status
	Action           string
	Destructive      bool
	AutoLeftCategory LeftCategory
}

// namedTransitions is the closed template table. TYPE_CHANGE has no fixed target.
var namedTransitions = map[Kind]NamedTransition{
	KindAdmit:      {Kind: KindAdmit, Target: StatusActive, Action: "Admit member"},
	KindActivate:   {Kind: KindActivate, Target: StatusActive, Action: "Activate membership"},
	KindDeactivate: {Kind: KindDeactivate, Target: StatusInactive, Action: "Deactivate membership"},
	KindResign:     {Kind: KindResign, Target: StatusLeft, Action: "Record resignation", Destructive: true},
	KindExclude:    {Kind: KindExclude, Target: StatusLeft, Action: "Exclude member", Destructive: true, AutoLeftCategory: LeftExclusion},
	KindDeceased:   {Kind: KindDeceased, Target: StatusLeft, Action: "Record death", Destructive: true, AutoLeftCategory: LeftDeath},
	KindTypeChange: {Kind: KindTypeChange, Action: "Change membership type"},
}

// Graph is the static status state machine.
type Graph struct {
	initial      Status
	edges        map[Status]map[Status]struct{}
	periodStatus map[Status]bool
	destructive  map[Status]bool
}

// GraphOption customises a Graph.
type GraphOption func(*Graph)

// WithPeriodStatuses replaces the set of statuses that require an open period.
func WithPeriodStatuses(statuses ...Status) GraphOption {
	return func(g *Graph) {
		g.periodStatus = make(map[Status]bool, len(statuses))
		for _, s := range statuses {
			g.periodStatus[s] = true
		}
	}
}

// NewGraph builds the default club lifecycle graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		initial: StatusPending,
		edges: map[Status]map[Status]struct{}{
			StatusPending:  {StatusActive: {}, StatusLeft: {}},
			StatusActive:   {StatusInactive: {}, StatusLeft: {}},
			StatusInactive: {StatusActive: {}, StatusLeft: {}},
			StatusLeft:     {},
		},
		periodStatus: map[Status]bool{StatusActive: true},
		destructive:  map[Status]bool{StatusLeft: true},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ParseStatuses converts a comma separated list into statuses known to the graph.
func (g *Graph) ParseStatuses(raw string) ([]Status, error) {
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		s := Status(part)
		if !g.Known(s) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, part)
		}
		out = append(out, s)
	}
	return out, nil
}

// Initial returns the status members start in before any transition.
func (g *Graph) Initial() Status {
	return g.initial
}

// Known reports whether the status is part of the graph.
func (g *Graph) Known(s Status) bool {
	_, ok := g.edges[s]
	return ok
}

// Statuses returns all known statuses in stable order.
func (g *Graph) Statuses() []Status {
	out := make([]Status, 0, len(g.edges))
	for s := range g.edges {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllowedTransitions returns the statuses reachable from s in one step.
func (g *Graph) AllowedTransitions(s Status) []Status {
	targets := g.edges[s]
	out := make([]Status, 0, len(targets))
	for t := range targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether from -> to is a valid edge. Self-transitions of known
// statuses are always valid and carry metadata-only changes.
func (g *Graph) CanTransition(from, to Status) bool {
	targets, ok := g.edges[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	_, ok = targets[to]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (g *Graph) IsTerminal(s Status) bool {
	return g.Known(s) && len(g.edges[s]) == 0
}

// IsDestructive reports whether entering s is irreversible and needs confirmation.
func (g *Graph) IsDestructive(s Status) bool {
	return g.destructive[s]
}

// RequiresPeriod reports whether members in s must hold an open membership period.
func (g *Graph) RequiresPeriod(s Status) bool {
	return g.periodStatus[s]
}

// Named returns the template for kind.
func (g *Graph) Named(kind Kind) (NamedTransition, bool) {
	nt, ok := namedTransitions[kind]
	return nt, ok
}

// NamedFor returns templates whose target is s, sorted by kind.
func (g *Graph) NamedFor(s Status) []NamedTransition {
	var out []NamedTransition
	for _, nt := range namedTransitions {
		if nt.Target == s {
			out = append(out, nt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// DefaultKind picks the template used when a request names none. Self-transitions get
// no template: type changes are only recorded through the explicit TYPE_CHANGE kind.
func (g *Graph) DefaultKind(from, to Status) Kind {
	switch {
	case from == to:
		return ""
	case to == StatusActive && from == StatusPending:
		return KindAdmit
	case to == StatusActive:
		return KindActivate
	case to == StatusInactive:
		return KindDeactivate
	case to == StatusLeft:
		return KindResign
	default:
		return ""
	}
}

// resolveKind validates a requested kind against the target status.
func (g *Graph) resolveKind(kind Kind, from, to Status) (NamedTransition, error) {
	if kind == "" {
		kind = g.DefaultKind(from, to)
	}
	if kind == "" {
		return NamedTransition{Target: to}, nil
	}
	nt, ok := g.Named(kind)
	if !ok {
		return NamedTransition{}, fmt.Errorf("%w: unknown kind %s", ErrNamedTransitionMismatch, kind)
	}
	if nt.Kind == KindTypeChange {
		if from != to {
			return NamedTransition{}, ErrNamedTransitionMismatch
		}
		nt.Target = to
		return nt, nil
	}
	if nt.Target != to {
		return NamedTransition{}, ErrNamedTransitionMismatch
	}
	return nt, nil
}
