package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/clubroster/clubroster/internal/app"
	"github.com/clubroster/clubroster/internal/club"
	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/members"
)

const seedActor = "seed"

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Seeding membership types...")
	types, err := seedTypes(ctx, rt.Club)
	if err != nil {
		log.Fatalf("seed types: %v", err)
	}

	fmt.Println("→ Seeding members...")
	if err := seedMembers(ctx, rt, types); err != nil {
		log.Fatalf("seed members: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedTypes(ctx context.Context, svc *club.Service) (map[string]string, error) {
	existing, err := svc.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(existing))
	for _, t := range existing {
		ids[t.Code] = t.ID
	}
	catalogue := []club.CreateTypeInput{
		{Code: "REGULAR", Name: "Regular member", Description: "Full voting membership"},
		{Code: "PASSIVE", Name: "Passive member", Description: "Supporting membership without training rights"},
		{Code: "YOUTH", Name: "Youth member", Description: "Members under 18"},
	}
	for _, in := range catalogue {
		if _, ok := ids[in.Code]; ok {
			continue
		}
		t, err := svc.CreateType(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", in.Code, err)
		}
		ids[t.Code] = t.ID
	}
	if _, err := svc.UpdateSettings(ctx, club.UpdateSettingsInput{
		ClubName:                "Demo Sports Club",
		DefaultMembershipTypeID: ids["REGULAR"],
	}); err != nil {
		return nil, err
	}
	return ids, nil
}

type seedStep struct {
	date   string
	kind   lifecycle.Kind
	to     lifecycle.Status
	typeID string
	left   lifecycle.LeftCategory
	reason string
}

func seedMembers(ctx context.Context, rt *app.Runtime, types map[string]string) error {
	_, page, err := rt.Members.ListMembers(ctx, members.ListFilters{PerPage: 1})
	if err != nil {
		return err
	}
	if page.Total > 0 {
		fmt.Println("  members already present, skipping")
		return nil
	}

	roster := []struct {
		input members.CreateMemberInput
		steps []seedStep
	}{
		{
			input: members.CreateMemberInput{Number: "1001", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.org"},
			steps: []seedStep{
				{date: "2021-03-01", kind: lifecycle.KindAdmit, reason: "Board approval"},
			},
		},
		{
			input: members.CreateMemberInput{Number: "1002", FirstName: "Alan", LastName: "Turing"},
			steps: []seedStep{
				{date: "2020-01-15", kind: lifecycle.KindAdmit, reason: "Board approval"},
				{date: "2022-06-01", kind: lifecycle.KindTypeChange, typeID: types["PASSIVE"], reason: "Stopped training"},
				{date: "2023-09-01", kind: lifecycle.KindDeactivate, reason: "Sabbatical"},
				{date: "2024-02-01", kind: lifecycle.KindActivate, reason: "Returned from sabbatical"},
			},
		},
		{
			input: members.CreateMemberInput{Number: "1003", FirstName: "Grace", LastName: "Hopper"},
			steps: []seedStep{
				{date: "2019-05-01", kind: lifecycle.KindAdmit, typeID: types["YOUTH"], reason: "Junior section"},
				{date: "2023-12-31", kind: lifecycle.KindResign, left: lifecycle.LeftVoluntary, reason: "Moved abroad"},
			},
		},
	}

	for _, entry := range roster {
		m, err := rt.Members.CreateMember(ctx, entry.input)
		if err != nil {
			return fmt.Errorf("create member %s: %w", entry.input.Number, err)
		}
		for _, step := range entry.steps {
			if err := applyStep(ctx, rt.Engine, m.ID, step); err != nil {
				return fmt.Errorf("member %s %s on %s: %w", entry.input.Number, step.kind, step.date, err)
			}
		}
		fmt.Printf("  %s %s %s (%d steps)\n", m.Number, m.FirstName, m.LastName, len(entry.steps))
	}
	return nil
}

func applyStep(ctx context.Context, engine *lifecycle.Engine, memberID string, step seedStep) error {
	date, err := time.Parse(time.DateOnly, step.date)
	if err != nil {
		return err
	}
	if step.kind == lifecycle.KindTypeChange {
		_, err := engine.ChangeMembershipType(ctx, lifecycle.TypeChangeRequest{
			MemberID:         memberID,
			MembershipTypeID: step.typeID,
			Reason:           step.reason,
			EffectiveDate:    date,
			ActorID:          seedActor,
		})
		return err
	}
	to := step.to
	if named, ok := engine.Graph().Named(step.kind); ok && to == "" {
		to = named.Target
	}
	_, err = engine.RequestTransition(ctx, lifecycle.TransitionRequest{
		MemberID:         memberID,
		ToStatus:         to,
		Kind:             step.kind,
		Reason:           step.reason,
		LeftCategory:     step.left,
		MembershipTypeID: step.typeID,
		EffectiveDate:    date,
		ActorID:          seedActor,
	})
	return err
}
