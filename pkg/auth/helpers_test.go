package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
	"github.com/tendant/tourdesk/pkg/repository"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	store     *repository.MemoryStore
	passwords *PasswordService
	sessions  *SessionService
	clock     *testClock
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T, cfg SessionConfig) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := &testClock{t: time.Now().Truncate(time.Second)}
	if cfg.JWTSecret == nil {
		cfg.JWTSecret = []byte(testJWTSecret)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tourdesk-test"
	}
	sessions := NewSessionService(cfg, store.Sessions(), store.Users())
	sessions.now = clock.Now
	return &fixture{
		store:     store,
		passwords: NewPasswordService(store.Users(), store.Credentials()),
		sessions:  sessions,
		clock:     clock,
	}
}

func (f *fixture) addUser(t *testing.T, email, password string) *domain.User {
	t.Helper()
	ctx := context.Background()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      "Test User",
		Role:      domain.RoleCustomer,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := f.store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if password != "" {
		if err := f.passwords.SetPassword(ctx, user.ID, password); err != nil {
			t.Fatalf("set password: %v", err)
		}
	}
	return user
}
