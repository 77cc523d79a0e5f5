package domain

import (
	"time"

	"github.com/google/uuid"
)

// Roles surfaced to clients. Authorization beyond "authenticated" is left to the caller.
const (
	RoleAdmin    = "admin"
	RoleEditor   = "editor"
	RoleCustomer = "customer"
)

// User represents the account that owns sessions.
type User struct {
	ID                   uuid.UUID
	Email                string
	Name                 string
	Role                 string
	Active               bool
	RequirePasswordReset bool
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// UserPassword stores password credentials separately from user profile.
type UserPassword struct {
	UserID            uuid.UUID
	PasswordHash      string
	PasswordUpdatedAt time.Time
}
