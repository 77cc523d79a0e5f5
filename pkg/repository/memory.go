package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
)

// MemoryStore keeps users, credentials and sessions in process memory. It
// backs tests and single-instance development servers. The mutex is only held
// around map access.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]domain.User
	emails   map[string]uuid.UUID
	creds    map[uuid.UUID]domain.UserPassword
	sessions map[uuid.UUID]memorySession
	seq      uint64
}

type memorySession struct {
	session domain.Session
	seq     uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]domain.User),
		emails:   make(map[string]uuid.UUID),
		creds:    make(map[uuid.UUID]domain.UserPassword),
		sessions: make(map[uuid.UUID]memorySession),
	}
}

// Users returns the user repository view of the store.
func (s *MemoryStore) Users() *MemoryUsers { return &MemoryUsers{s} }

// Credentials returns the credentials repository view of the store.
func (s *MemoryStore) Credentials() *MemoryCredentials { return &MemoryCredentials{s} }

// Sessions returns the session repository view of the store.
func (s *MemoryStore) Sessions() *MemorySessions { return &MemorySessions{s} }

// MemoryUsers implements the user repository over a MemoryStore.
type MemoryUsers struct{ s *MemoryStore }

// Create adds a user. The email must be unique.
func (r *MemoryUsers) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.emails[user.Email]; ok {
		return domain.ErrEmailTaken
	}
	r.s.users[user.ID] = *user
	r.s.emails[user.Email] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *MemoryUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

// GetByEmail retrieves a user by email.
func (r *MemoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	user := r.s.users[id]
	return &user, nil
}

// SetActive enables or disables an account.
func (r *MemoryUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Active = active
	user.UpdatedAt = time.Now()
	r.s.users[id] = user
	return nil
}

// IncrementFailedLoginAttempts increments the counter and locks at maxAttempts.
func (r *MemoryUsers) IncrementFailedLoginAttempts(_ context.Context, userID uuid.UUID, lockoutDuration time.Duration, maxAttempts int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxAttempts {
		until := time.Now().Add(lockoutDuration)
		user.LockedUntil = &until
	}
	r.s.users[userID] = user
	return nil
}

// ResetFailedLoginAttempts clears the counter and any lock.
func (r *MemoryUsers) ResetFailedLoginAttempts(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	r.s.users[userID] = user
	return nil
}

// Delete removes a user together with its credentials and sessions.
func (r *MemoryUsers) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	delete(r.s.users, id)
	delete(r.s.emails, user.Email)
	delete(r.s.creds, id)
	for sid, ms := range r.s.sessions {
		if ms.session.UserID == id {
			delete(r.s.sessions, sid)
		}
	}
	return nil
}

// MemoryCredentials implements the credentials repository over a MemoryStore.
type MemoryCredentials struct{ s *MemoryStore }

// GetByUserID returns the password record for a user.
func (r *MemoryCredentials) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.UserPassword, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	cred, ok := r.s.creds[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &cred, nil
}

// Upsert creates or replaces the password record for a user.
func (r *MemoryCredentials) Upsert(_ context.Context, cred *domain.UserPassword) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.creds[cred.UserID] = *cred
	return nil
}

// MemorySessions implements the session repository over a MemoryStore.
type MemorySessions struct{ s *MemoryStore }

// Create stores a new session.
func (r *MemorySessions) Create(_ context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	r.s.sessions[session.ID] = memorySession{session: *session, seq: r.s.seq}
	return nil
}

// GetByID retrieves a session by ID.
func (r *MemorySessions) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ms, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	session := ms.session
	return &session, nil
}

// ListByUserID returns the sessions of a user, most recent first. Sessions
// created at the same instant are ordered by insertion.
func (r *MemorySessions) ListByUserID(_ context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	r.s.mu.RLock()
	matched := make([]memorySession, 0)
	for _, ms := range r.s.sessions {
		if ms.session.UserID == userID {
			matched = append(matched, ms)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.session.CreatedAt.Equal(b.session.CreatedAt) {
			return a.session.CreatedAt.After(b.session.CreatedAt)
		}
		return a.seq > b.seq
	})

	sessions := make([]*domain.Session, len(matched))
	for i := range matched {
		session := matched[i].session
		sessions[i] = &session
	}
	return sessions, nil
}

// UpdateActivity sets LastActivity and merges the non-empty device fields.
func (r *MemorySessions) UpdateActivity(_ context.Context, id uuid.UUID, at time.Time, device *domain.DeviceMetadata) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ms, ok := r.s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	ms.session.LastActivity = at
	if device != nil {
		ms.session.Device = mergeDevice(ms.session.Device, *device)
	}
	r.s.sessions[id] = ms
	return nil
}

// UpdateTokens swaps the token hashes when the refresh hash still matches.
func (r *MemorySessions) UpdateTokens(_ context.Context, id uuid.UUID, oldRefreshHash, accessHash, refreshHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ms, ok := r.s.sessions[id]
	if !ok || ms.session.RefreshTokenHash != oldRefreshHash {
		return domain.ErrSessionNotFound
	}
	ms.session.PreviousRefreshTokenHash = ms.session.RefreshTokenHash
	ms.session.AccessTokenHash = accessHash
	ms.session.RefreshTokenHash = refreshHash
	r.s.sessions[id] = ms
	return nil
}

// Delete removes a session.
func (r *MemorySessions) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

// DeleteByUserID removes all sessions of a user.
func (r *MemorySessions) DeleteByUserID(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ms := range r.s.sessions {
		if ms.session.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired removes sessions past ExpiresAt or idle since before idleCutoff.
func (r *MemorySessions) DeleteExpired(_ context.Context, now, idleCutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, ms := range r.s.sessions {
		expired := !now.Before(ms.session.ExpiresAt)
		idle := !idleCutoff.IsZero() && ms.session.LastActivity.Before(idleCutoff)
		if expired || idle {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

func mergeDevice(stored, update domain.DeviceMetadata) domain.DeviceMetadata {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&stored.Device, update.Device)
	set(&stored.Browser, update.Browser)
	set(&stored.OS, update.OS)
	set(&stored.IPAddress, update.IPAddress)
	set(&stored.Country, update.Country)
	set(&stored.City, update.City)
	set(&stored.UserAgent, update.UserAgent)
	return stored
}
