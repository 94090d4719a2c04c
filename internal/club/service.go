package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists club settings and membership types.
type Repository interface {
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
	ListTypes(ctx context.Context) ([]MembershipType, error)
	GetType(ctx context.Context, id string) (MembershipType, error)
	InsertType(ctx context.Context, t MembershipType) error
	SetTypeActive(ctx context.Context, id string, active bool) error
}

// Service exposes club configuration. It also resolves membership types for the
// lifecycle engine.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
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

// GetSettings returns the settings, or zero settings when none were saved yet.
func (s *Service) GetSettings(ctx context.Context) (Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		return Settings{}, nil
	}
	return settings, err
}

// UpdateSettings validates the default type and stores the settings.
func (s *Service) UpdateSettings(ctx context.Context, in UpdateSettingsInput) (Settings, error) {
	settings := Settings{
		ClubName:                strings.TrimSpace(in.ClubName),
		DefaultMembershipTypeID: strings.TrimSpace(in.DefaultMembershipTypeID),
		UpdatedAt:               s.now().UTC(),
	}
	if settings.DefaultMembershipTypeID != "" {
		t, err := s.repo.GetType(ctx, settings.DefaultMembershipTypeID)
		if err != nil {
			return Settings{}, err
		}
		if !t.Active {
			return Settings{}, ErrInactiveType
		}
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

// ListTypes returns every membership type ordered by code.
func (s *Service) ListTypes(ctx context.Context) ([]MembershipType, error) {
	return s.repo.ListTypes(ctx)
}

// CreateType adds an active membership type.
func (s *Service) CreateType(ctx context.Context, in CreateTypeInput) (MembershipType, error) {
	t := MembershipType{
		ID:          s.newID(),
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.InsertType(ctx, t); err != nil {
		return MembershipType{}, err
	}
	return t, nil
}

// SetTypeActive toggles a membership type. The default type stays active.
func (s *Service) SetTypeActive(ctx context.Context, id string, active bool) error {
	if !active {
		settings, err := s.GetSettings(ctx)
		if err != nil {
			return err
		}
		if settings.DefaultMembershipTypeID == id {
			return ErrDefaultType
		}
	}
	return s.repo.SetTypeActive(ctx, id, active)
}

// DefaultMembershipType returns the configured default type id, empty when unset.
func (s *Service) DefaultMembershipType(ctx context.Context) (string, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	return settings.DefaultMembershipTypeID, nil
}

// MembershipTypeExists reports whether id names an active membership type.
func (s *Service) MembershipTypeExists(ctx context.Context, id string) (bool, error) {
	t, err := s.repo.GetType(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Active, nil
}
