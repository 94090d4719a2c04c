package club

import (
	"errors"
	"time"
)

// MembershipType is one entry of the club's membership catalogue.
type MembershipType struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settings holds club-wide configuration.
type Settings struct {
	ClubName                string    `json:"club_name"`
	DefaultMembershipTypeID string    `json:"default_membership_type_id,omitempty"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// CreateTypeInput describes a new membership type.
type CreateTypeInput struct {
	Code        string `json:"code" validate:"required,max=32,alphanumunicode"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// UpdateSettingsInput replaces the club settings.
type UpdateSettingsInput struct {
	ClubName                string `json:"club_name" validate:"required,max=200"`
	DefaultMembershipTypeID string `json:"default_membership_type_id" validate:"omitempty,max=64"`
}

var (
	// ErrNotFound indicates a missing membership type or unset settings.
	ErrNotFound = errors.New("club: not found")
	// ErrDuplicateCode indicates a membership type code collision.
	ErrDuplicateCode = errors.New("club: membership type code already exists")
	// ErrInactiveType rejects inactive types where an active one is required.
	ErrInactiveType = errors.New("club: membership type inactive")
	// ErrDefaultType protects the default type from deactivation.
	ErrDefaultType = errors.New("club: default membership type cannot be deactivated")
)
