package lifecycle

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Log is one member's status transition log ordered by effective date.
type Log struct {
	graph   *Graph
	initial Status
	entries []Transition
}

// NewLog copies entries into a log starting from initial.
func NewLog(graph *Graph, initial Status, entries []Transition) *Log {
	if initial == "" {
		initial = graph.Initial()
	}
	l := &Log{graph: graph, initial: initial}
	l.entries = append([]Transition(nil), entries...)
	sortTransitions(l.entries)
	return l
}

// NormalizeReason trims and NFC-normalises a reason and checks its length.
func NormalizeReason(reason string) (string, error) {
	reason = strings.TrimSpace(norm.NFC.String(reason))
	n := utf8.RuneCountInString(reason)
	if n < MinReasonLength || n > MaxReasonLength {
		return "", ErrReasonLength
	}
	return reason, nil
}

// validateEntry applies the per-entry rules shared by Append and recalculation.
func (l *Log) validateEntry(entry Transition) (Transition, error) {
	if !l.graph.Known(entry.ToStatus) || !l.graph.Known(entry.FromStatus) {
		return Transition{}, ErrUnknownStatus
	}
	if !l.graph.CanTransition(entry.FromStatus, entry.ToStatus) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.FromStatus, entry.ToStatus)
	}
	reason, err := NormalizeReason(entry.Reason)
	if err != nil {
		return Transition{}, err
	}
	entry.Reason = reason
	if entry.ToStatus == StatusLeft {
		if !entry.LeftCategory.Valid() {
			return Transition{}, ErrMissingCategory
		}
	} else {
		entry.LeftCategory = ""
	}
	entry.EffectiveDate = Day(entry.EffectiveDate)
	return entry, nil
}

// Append validates and inserts entry at its effective-date position.
func (l *Log) Append(entry Transition) (Transition, error) {
	entry, err := l.validateEntry(entry)
	if err != nil {
		return Transition{}, err
	}
	l.entries = append(l.entries, entry)
	sortTransitions(l.entries)
	return entry, nil
}

// Remove deletes the entry with id. Only recalculation calls it.
func (l *Log) Remove(id string) bool {
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the entry with id.
func (l *Log) Get(id string) (Transition, bool) {
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Transition{}, false
}

// Entries returns the ordered entries.
func (l *Log) Entries() []Transition {
	return append([]Transition(nil), l.entries...)
}

// LatestAsOf returns the last entry effective on or before date.
func (l *Log) LatestAsOf(date time.Time) (Transition, bool) {
	date = Day(date)
	var latest Transition
	found := false
	for _, e := range l.entries {
		if e.EffectiveDate.After(date) {
			break
		}
		latest = e
		found = true
	}
	return latest, found
}

// EntriesFrom returns entries effective on or after date, ascending.
func (l *Log) EntriesFrom(date time.Time) []Transition {
	date = Day(date)
	var out []Transition
	for _, e := range l.entries {
		if !e.EffectiveDate.Before(date) {
			out = append(out, e)
		}
	}
	return out
}

// StatusAsOf derives the member status on date.
func (l *Log) StatusAsOf(date time.Time) Status {
	if latest, ok := l.LatestAsOf(date); ok {
		return latest.ToStatus
	}
	return l.initial
}

// IsLatest reports whether date is not before any recorded entry.
func (l *Log) IsLatest(date time.Time) bool {
	if len(l.entries) == 0 {
		return true
	}
	return !Day(date).Before(l.entries[len(l.entries)-1].EffectiveDate)
}

// Walk verifies that every entry starts where its predecessor ended.
func (l *Log) Walk() error {
	prev := l.initial
	for _, e := range l.entries {
		if e.FromStatus != prev {
			return fmt.Errorf("%w: entry %s starts at %s, expected %s", ErrInvalidTransition, e.ID, e.FromStatus, prev)
		}
		if !l.graph.CanTransition(e.FromStatus, e.ToStatus) {
			return fmt.Errorf("%w: entry %s %s -> %s", ErrInvalidTransition, e.ID, e.FromStatus, e.ToStatus)
		}
		prev = e.ToStatus
	}
	return nil
}
