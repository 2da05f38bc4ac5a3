package member

import (
	"context"
	"time"
)

// Role is the authorization tier stored on a member profile.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role string from user input.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMember, RoleAdmin:
		return Role(s), nil
	default:
		return "", OpError{Op: "member.ParseRole", Kind: ErrInvalidInput, Msg: "unknown role"}
	}
}

// Member is a leaderboard member profile.
type Member struct {
	ID     string
	Name   string
	Email  string
	Points int
	Role   Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertInput describes an idempotent profile write, used at signup.
// Callers must pass complete records; all profile fields are overwritten.
// PasswordHash, when non-empty, installs or replaces the member credential
// in the same transaction.
type UpsertInput struct {
	ID           string
	Name         string
	Email        string
	Points       int
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store is the member persistence boundary.
type Store interface {
	// Upsert creates or fully overwrites the profile keyed by ID.
	// Writing the same input twice yields one record equal to the last write.
	Upsert(ctx context.Context, in UpsertInput) (Member, error)

	// GetByID returns the profile or ErrNotFound.
	GetByID(ctx context.Context, id string) (Member, error)

	// GetByEmailForLogin returns the profile and its stored password hash.
	// Returns ErrNotFound when no profile or no credential exists.
	GetByEmailForLogin(ctx context.Context, email string) (Member, string, error)

	// ListByPoints returns all members ordered by points descending.
	// Tie order between equal point totals is unspecified.
	ListByPoints(ctx context.Context) ([]Member, error)

	// AddPoints atomically increments a member's point total.
	// A non-positive delta is a no-op logged as a warning, not an error.
	AddPoints(ctx context.Context, id string, delta int) error
}
