package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clubroster/clubroster/internal/lifecycle"
)

// TimelineReader loads a member's merged lifecycle history.
type TimelineReader interface {
	GetTimeline(ctx context.Context, memberID string) (lifecycle.Timeline, error)
}

// TimelineOptions defines flags for the timeline command.
type TimelineOptions struct {
	MemberID   string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TimelineEventView is one JSON row of the timeline command.
type TimelineEventView struct {
	Date         string `json:"date"`
	Kind         string `json:"kind"`
	TransitionID string `json:"transition_id,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	Reason       string `json:"reason,omitempty"`
	PeriodID     string `json:"period_id,omitempty"`
	TypeID       string `json:"membership_type_id,omitempty"`
}

// TimelineSummary is the JSON document printed by the timeline command.
type TimelineSummary struct {
	MemberID string              `json:"member_id"`
	Status   string              `json:"status"`
	Stored   string              `json:"stored_status"`
	Version  int64               `json:"timeline_version"`
	Events   []TimelineEventView `json:"events"`
}

// TimelineCommand prints a member timeline. Exit code 10 flags a stored status that
// lags behind the log, 2 an unknown member.
func TimelineCommand(ctx context.Context, reader TimelineReader, opts TimelineOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	memberID := strings.TrimSpace(opts.MemberID)
	if memberID == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "timeline: --member is required")
		return 1
	}
	tl, err := reader.GetTimeline(ctx, memberID)
	if errors.Is(err, lifecycle.ErrMemberNotFound) {
		_, _ = fmt.Fprintf(opts.Stderr, "timeline: member %s not found\n", memberID)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "timeline: %v\n", err)
		return 1
	}
	summary := buildTimelineSummary(memberID, tl)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "timeline: encode json: %v\n", err)
			return 1
		}
	} else {
		renderTimelineHuman(opts.Stdout, summary)
	}
	if summary.Stored != summary.Status {
		return 10
	}
	return 0
}

func buildTimelineSummary(memberID string, tl lifecycle.Timeline) TimelineSummary {
	summary := TimelineSummary{
		MemberID: memberID,
		Status:   string(tl.Status),
		Stored:   string(tl.Member.CurrentStatus),
		Version:  tl.Member.TimelineVersion,
		Events:   make([]TimelineEventView, 0, len(tl.Events)),
	}
	for _, ev := range tl.Events {
		view := TimelineEventView{Date: ev.Date.Format(time.DateOnly), Kind: string(ev.Kind)}
		if ev.Transition != nil {
			view.TransitionID = ev.Transition.ID
			view.From = string(ev.Transition.FromStatus)
			view.To = string(ev.Transition.ToStatus)
			view.Reason = ev.Transition.Reason
		}
		if ev.Period != nil {
			view.PeriodID = ev.Period.ID
			view.TypeID = ev.Period.MembershipTypeID
		}
		summary.Events = append(summary.Events, view)
	}
	return summary
}

func renderTimelineHuman(out io.Writer, summary TimelineSummary) {
	_, _ = fmt.Fprintf(out, "Member %s: %s (version %d)\n", summary.MemberID, summary.Status, summary.Version)
	if summary.Stored != summary.Status {
		_, _ = fmt.Fprintf(out, "Stored status %s is stale, run the status refresh job.\n", summary.Stored)
	}
	if len(summary.Events) == 0 {
		_, _ = fmt.Fprintln(out, "No lifecycle events recorded.")
		return
	}
	for _, ev := range summary.Events {
		switch {
		case ev.TransitionID != "":
			_, _ = fmt.Fprintf(out, " %s  %-12s %s -> %s  %s\n", ev.Date, ev.Kind, ev.From, ev.To, ev.Reason)
		default:
			_, _ = fmt.Fprintf(out, " %s  %-12s %s [%s]\n", ev.Date, ev.Kind, ev.PeriodID, ev.TypeID)
		}
	}
}
