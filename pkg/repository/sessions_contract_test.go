package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
)

type sessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error)
	UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time, device *domain.DeviceMetadata) error
	UpdateTokens(ctx context.Context, id uuid.UUID, oldRefreshHash, accessHash, refreshHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}

func newTestSession(userID uuid.UUID, createdAt time.Time) *domain.Session {
	return &domain.Session{
		ID:               uuid.New(),
		UserID:           userID,
		AccessTokenHash:  "access-" + uuid.NewString(),
		RefreshTokenHash: "refresh-" + uuid.NewString(),
		CSRFTokenHash:    "csrf-" + uuid.NewString(),
		Device: domain.DeviceMetadata{
			Device:    "desktop",
			Browser:   "Chrome 120",
			OS:        "Windows 10",
			IPAddress: "203.0.113.7",
			Country:   "PL",
			City:      "Gdansk",
			UserAgent: "Mozilla/5.0",
		},
		LastActivity: createdAt,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(7 * 24 * time.Hour),
	}
}

// testSessionRepository runs the behaviour every session backend must share.
func testSessionRepository(t *testing.T, newRepo func(t *testing.T) sessionRepository) {
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := newTestSession(uuid.New(), base)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.GetByID(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.UserID != s.UserID || got.AccessTokenHash != s.AccessTokenHash || got.CSRFTokenHash != s.CSRFTokenHash {
			t.Errorf("GetByID returned %+v, want %+v", got, s)
		}
		if got.Device != s.Device {
			t.Errorf("Device = %+v, want %+v", got.Device, s.Device)
		}
		if !got.ExpiresAt.Equal(s.ExpiresAt) || !got.CreatedAt.Equal(s.CreatedAt) {
			t.Errorf("timestamps = %v/%v, want %v/%v", got.CreatedAt, got.ExpiresAt, s.CreatedAt, s.ExpiresAt)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetByID(context.Background(), uuid.New())
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("GetByID error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("list most recent first, own sessions only", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		userID := uuid.New()
		s1 := newTestSession(userID, base)
		s2 := newTestSession(userID, base.Add(time.Second))
		other := newTestSession(uuid.New(), base)
		for _, s := range []*domain.Session{s1, s2, other} {
			if err := repo.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		list, err := repo.ListByUserID(ctx, userID)
		if err != nil {
			t.Fatalf("ListByUserID: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
		if list[0].ID != s2.ID || list[1].ID != s1.ID {
			t.Errorf("order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, s2.ID, s1.ID)
		}
	})

	t.Run("update activity merges device", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := newTestSession(uuid.New(), base)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}

		at := base.Add(time.Minute)
		if err := repo.UpdateActivity(ctx, s.ID, at, &domain.DeviceMetadata{IPAddress: "198.51.100.1"}); err != nil {
			t.Fatalf("UpdateActivity: %v", err)
		}
		got, err := repo.GetByID(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if !got.LastActivity.Equal(at) {
			t.Errorf("LastActivity = %v, want %v", got.LastActivity, at)
		}
		if got.Device.IPAddress != "198.51.100.1" {
			t.Errorf("IPAddress = %q, want updated value", got.Device.IPAddress)
		}
		if got.Device.Browser != s.Device.Browser || got.Device.City != s.Device.City {
			t.Errorf("empty fields overwrote stored metadata: %+v", got.Device)
		}
	})

	t.Run("update activity does not recreate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := newTestSession(uuid.New(), base)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Delete(ctx, s.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}

		err := repo.UpdateActivity(ctx, s.ID, base.Add(time.Minute), nil)
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("UpdateActivity error = %v, want ErrSessionNotFound", err)
		}
		if _, err := repo.GetByID(ctx, s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("deleted session came back: %v", err)
		}
	})

	t.Run("update tokens compares refresh hash", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := newTestSession(uuid.New(), base)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}

		if err := repo.UpdateTokens(ctx, s.ID, "stale", "a2", "r2"); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("stale UpdateTokens error = %v, want ErrSessionNotFound", err)
		}
		if err := repo.UpdateTokens(ctx, s.ID, s.RefreshTokenHash, "a2", "r2"); err != nil {
			t.Fatalf("UpdateTokens: %v", err)
		}
		got, err := repo.GetByID(ctx, s.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.AccessTokenHash != "a2" || got.RefreshTokenHash != "r2" {
			t.Errorf("hashes = %q/%q, want a2/r2", got.AccessTokenHash, got.RefreshTokenHash)
		}
		if got.PreviousRefreshTokenHash != s.RefreshTokenHash {
			t.Errorf("PreviousRefreshTokenHash = %q, want %q", got.PreviousRefreshTokenHash, s.RefreshTokenHash)
		}
		if got.CSRFTokenHash != s.CSRFTokenHash {
			t.Error("CSRF hash changed on token update")
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		s := newTestSession(uuid.New(), base)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := repo.Delete(ctx, s.ID); err != nil {
				t.Fatalf("Delete #%d: %v", i+1, err)
			}
		}
		list, err := repo.ListByUserID(ctx, s.UserID)
		if err != nil {
			t.Fatalf("ListByUserID: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("len = %d after delete, want 0", len(list))
		}
	})

	t.Run("delete by user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		userID := uuid.New()
		keep := newTestSession(uuid.New(), base)
		for _, s := range []*domain.Session{newTestSession(userID, base), newTestSession(userID, base), keep} {
			if err := repo.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		if err := repo.DeleteByUserID(ctx, userID); err != nil {
			t.Fatalf("DeleteByUserID: %v", err)
		}
		list, err := repo.ListByUserID(ctx, userID)
		if err != nil {
			t.Fatalf("ListByUserID: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("len = %d, want 0", len(list))
		}
		if _, err := repo.GetByID(ctx, keep.ID); err != nil {
			t.Errorf("other user's session removed: %v", err)
		}
	})

	t.Run("delete expired", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := base.Add(30 * 24 * time.Hour)

		expired := newTestSession(uuid.New(), base)
		idle := newTestSession(uuid.New(), now.Add(-48*time.Hour))
		live := newTestSession(uuid.New(), now.Add(-time.Hour))
		for _, s := range []*domain.Session{expired, idle, live} {
			if err := repo.Create(ctx, s); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		n, err := repo.DeleteExpired(ctx, now, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n != 2 {
			t.Errorf("deleted = %d, want 2", n)
		}
		if _, err := repo.GetByID(ctx, live.ID); err != nil {
			t.Errorf("live session removed: %v", err)
		}
		for _, s := range []*domain.Session{expired, idle} {
			if _, err := repo.GetByID(ctx, s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
				t.Errorf("session %s survived sweep: %v", s.ID, err)
			}
		}
	})

	t.Run("delete expired without idle cutoff", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := base.Add(time.Hour)
		idle := newTestSession(uuid.New(), base.Add(-72*time.Hour))
		if err := repo.Create(ctx, idle); err != nil {
			t.Fatalf("Create: %v", err)
		}

		n, err := repo.DeleteExpired(ctx, now, time.Time{})
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n != 0 {
			t.Errorf("deleted = %d, want 0", n)
		}
	})
}
