package members

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clubroster/clubroster/internal/lifecycle"
	"github.com/clubroster/clubroster/internal/shared"
)

// Repository persists members and households.
type Repository interface {
	InsertMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id string) (Member, error)
	ListMembers(ctx context.Context, filters ListFilters, limit, offset int) ([]Member, int, error)
	SetHousehold(ctx context.Context, memberID, householdID string) error
	InsertHousehold(ctx context.Context, h Household) error
	GetHousehold(ctx context.Context, id string) (Household, error)
	ListHouseholdMembers(ctx context.Context, householdID string) ([]Member, error)
}

// Service manages member records. Status changes go through the lifecycle engine.
type Service struct {
	repo  Repository
	graph *lifecycle.Graph
	now   func() time.Time
	newID func() string
}

// NewService constructs a Service instance.
func NewService(repo Repository, graph *lifecycle.Graph) *Service {
	if graph == nil {
		graph = lifecycle.NewGraph()
	}
	return &Service{
		repo:  repo,
		graph: graph,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateMember registers a member with an empty timeline. The initial status must not
// require a membership period since none exists yet.
func (s *Service) CreateMember(ctx context.Context, in CreateMemberInput) (Member, error) {
	initial := s.graph.Initial()
	if in.InitialStatus != "" {
		initial = lifecycle.Status(strings.ToUpper(in.InitialStatus))
	}
	if !s.graph.Known(initial) || s.graph.RequiresPeriod(initial) {
		return Member{}, fmt.Errorf("%w: %s", ErrInitialStatus, initial)
	}
	if in.HouseholdID != "" {
		if _, err := s.repo.GetHousehold(ctx, in.HouseholdID); err != nil {
			return Member{}, err
		}
	}
	now := s.now().UTC()
	m := Member{
		ID:            s.newID(),
		Number:        strings.TrimSpace(in.Number),
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		HouseholdID:   in.HouseholdID,
		InitialStatus: initial,
		CurrentStatus: initial,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertMember(ctx, m); err != nil {
		return Member{}, err
	}
	return m, nil
}

// GetMember returns one member.
func (s *Service) GetMember(ctx context.Context, id string) (Member, error) {
	return s.repo.GetMember(ctx, id)
}

// ListMembers returns a page of members with pagination metadata.
func (s *Service) ListMembers(ctx context.Context, filters ListFilters) ([]Member, shared.Pagination, error) {
	page, perPage := shared.NormalizePage(filters.Page, filters.PerPage)
	filters.Query = strings.TrimSpace(filters.Query)
	p := shared.Pagination{Page: page, PerPage: perPage}
	items, total, err := s.repo.ListMembers(ctx, filters, perPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// CreateHousehold registers a household.
func (s *Service) CreateHousehold(ctx context.Context, in CreateHouseholdInput) (Household, error) {
	h := Household{ID: s.newID(), Name: strings.TrimSpace(in.Name), CreatedAt: s.now().UTC()}
	if err := s.repo.InsertHousehold(ctx, h); err != nil {
		return Household{}, err
	}
	return h, nil
}

// AssignHousehold links a member to a household, or unlinks it when householdID is empty.
func (s *Service) AssignHousehold(ctx context.Context, memberID, householdID string) (Member, error) {
	if householdID != "" {
		if _, err := s.repo.GetHousehold(ctx, householdID); err != nil {
			return Member{}, err
		}
	}
	if err := s.repo.SetHousehold(ctx, memberID, householdID); err != nil {
		return Member{}, err
	}
	return s.repo.GetMember(ctx, memberID)
}

// HouseholdMembers lists members of a household.
func (s *Service) HouseholdMembers(ctx context.Context, householdID string) (Household, []Member, error) {
	h, err := s.repo.GetHousehold(ctx, householdID)
	if err != nil {
		return Household{}, nil, err
	}
	items, err := s.repo.ListHouseholdMembers(ctx, householdID)
	if err != nil {
		return Household{}, nil, err
	}
	return h, items, nil
}
