// Package seed provisions accounts outside the HTTP surface.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/domain"
)

// UserStore is the user persistence needed to provision an account.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error
}

// Account describes the account to provision.
type Account struct {
	Email    string
	Name     string
	Role     string
	Password string
}

// EnsureUser creates the account, or resets the password and lockout of an
// existing one. It reports whether a new user was created.
func EnsureUser(ctx context.Context, users UserStore, passwords *auth.PasswordService, acct Account) (*domain.User, bool, error) {
	if err := auth.ValidateEmail(acct.Email); err != nil {
		return nil, false, err
	}
	switch acct.Role {
	case "":
		acct.Role = domain.RoleAdmin
	case domain.RoleAdmin, domain.RoleEditor, domain.RoleCustomer:
	default:
		return nil, false, fmt.Errorf("unknown role %q", acct.Role)
	}
	if err := passwords.ValidatePassword(acct.Password); err != nil {
		return nil, false, err
	}
	email := auth.NormalizeEmail(acct.Email)

	user, err := users.GetByEmail(ctx, email)
	created := false
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		now := time.Now().UTC()
		user = &domain.User{
			ID:        uuid.New(),
			Email:     email,
			Name:      acct.Name,
			Role:      acct.Role,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := users.Create(ctx, user); err != nil {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("look up user: %w", err)
	default:
		if err := users.ResetFailedLoginAttempts(ctx, user.ID); err != nil {
			return nil, false, fmt.Errorf("reset lockout: %w", err)
		}
	}

	if err := passwords.SetPassword(ctx, user.ID, acct.Password); err != nil {
		return nil, false, fmt.Errorf("set password: %w", err)
	}
	return user, created, nil
}
