package members

import (
	"errors"
	"time"

	"github.com/clubroster/clubroster/internal/lifecycle"
)

// Member is the identity record a lifecycle timeline hangs off.
type Member struct {
	ID              string           `json:"id"`
	Number          string           `json:"number"`
	FirstName       string           `json:"first_name"`
	LastName        string           `json:"last_name"`
	Email           string           `json:"email,omitempty"`
	HouseholdID     string           `json:"household_id,omitempty"`
	InitialStatus   lifecycle.Status `json:"initial_status"`
	CurrentStatus   lifecycle.Status `json:"current_status"`
	TimelineVersion int64            `json:"timeline_version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Household groups members living at the same address.
type Household struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateMemberInput registers a member.
type CreateMemberInput struct {
	Number        string `json:"number" validate:"required,max=32"`
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	Email         string `json:"email" validate:"omitempty,email,max=254"`
	HouseholdID   string `json:"household_id" validate:"omitempty,max=64"`
	InitialStatus string `json:"initial_status" validate:"omitempty,oneof=PENDING ACTIVE INACTIVE LEFT"`
}

// CreateHouseholdInput registers a household.
type CreateHouseholdInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

// ListFilters narrows member listings.
type ListFilters struct {
	Status      lifecycle.Status
	HouseholdID string
	Query       string
	Page        int
	PerPage     int
}

var (
	// ErrNotFound indicates a missing member or household.
	ErrNotFound = errors.New("members: not found")
	// ErrDuplicateNumber indicates a member number collision.
	ErrDuplicateNumber = errors.New("members: member number already in use")
	// ErrInitialStatus rejects initial statuses that would need a membership period.
	ErrInitialStatus = errors.New("members: initial status not allowed")
)
