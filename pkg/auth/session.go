package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/tourdesk/pkg/domain"
)

const (
	// Default token lifetimes
	DefaultAccessTokenTTL = 15 * time.Minute
	DefaultSessionTTL     = 7 * 24 * time.Hour
	DefaultIdleTimeout    = 24 * time.Hour

	refreshTokenSep = "."
)

// SessionRepository is the persistence collaborator for session records.
// Delete and DeleteByUserID are idempotent. UpdateActivity keeps existing
// device fields when the new value is empty, and must not recreate a deleted
// session. UpdateTokens only succeeds when the stored refresh hash still equals
// oldRefreshHash, otherwise it returns domain.ErrSessionNotFound.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error)
	UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time, device *domain.DeviceMetadata) error
	UpdateTokens(ctx context.Context, id uuid.UUID, oldRefreshHash, accessHash, refreshHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error)
}

// SessionConfig holds session configuration.
type SessionConfig struct {
	JWTSecret      []byte
	Issuer         string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	// IdleTimeout expires sessions without activity; zero disables it.
	IdleTimeout time.Duration
}

// SessionService owns the session lifecycle. It is the only component that
// creates or deletes session records.
type SessionService struct {
	config   SessionConfig
	sessions SessionRepository
	users    UserRepository
	now      func() time.Time
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, sessions SessionRepository, users UserRepository) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	return &SessionService{
		config:   config,
		sessions: sessions,
		users:    users,
		now:      time.Now,
	}
}

// AccessTokenClaims represents the claims in an access token. The token ID is
// the session ID and Secret is the raw access secret whose digest is stored on
// the session.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Secret string `json:"sec"`
}

// IssuedSession carries the raw session secrets. It is returned exactly once,
// when the secrets are created, and is never reconstructible from storage.
type IssuedSession struct {
	Session      *domain.Session
	AccessToken  string
	RefreshToken string
	// CSRFToken is empty after a rotation; the CSRF secret is bound to the
	// session for its whole life.
	CSRFToken       string
	AccessExpiresAt time.Time
}

// CreateSession creates a new session for userID and returns its secrets.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, device domain.DeviceMetadata) (*IssuedSession, error) {
	accessSecret, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, err
	}
	refreshSecret, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, err
	}
	csrfToken, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:               uuid.New(),
		UserID:           userID,
		AccessTokenHash:  HashToken(accessSecret),
		RefreshTokenHash: HashToken(refreshSecret),
		CSRFTokenHash:    HashToken(csrfToken),
		Device:           device,
		LastActivity:     now,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.SessionTTL),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, accessExp, err := s.signAccessToken(session, accessSecret, now)
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		Session:         session,
		AccessToken:     accessToken,
		RefreshToken:    session.ID.String() + refreshTokenSep + refreshSecret,
		CSRFToken:       csrfToken,
		AccessExpiresAt: accessExp,
	}, nil
}

// GetSessionByID returns the session or domain.ErrSessionNotFound.
func (s *SessionService) GetSessionByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// GetUserSessions returns the live sessions of userID, most recent first.
func (s *SessionService) GetUserSessions(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	all, err := s.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := make([]*domain.Session, 0, len(all))
	for _, session := range all {
		if session.UserID != userID || session.IsExpired(now, s.config.IdleTimeout) {
			continue
		}
		live = append(live, session)
	}
	return live, nil
}

// TouchSession records activity on a session. device may be nil; empty fields
// keep their stored values.
func (s *SessionService) TouchSession(ctx context.Context, id uuid.UUID, device *domain.DeviceMetadata) error {
	return s.sessions.UpdateActivity(ctx, id, s.now(), device)
}

// RevokeSession deletes a session. Revoking an unknown session is not an error.
func (s *SessionService) RevokeSession(ctx context.Context, id uuid.UUID) error {
	if err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}
	return nil
}

// RevokeAllSessions deletes every session owned by userID. A session created
// concurrently with the sweep may survive.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.DeleteByUserID(ctx, userID)
}

// ParseAccessToken validates the access token envelope and returns its claims.
func (s *SessionService) ParseAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid || claims.Secret == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccessToken resolves an access token to its live session. Malformed
// tokens, unknown or expired sessions and secret mismatches all return
// domain.ErrInvalidToken; any other error comes from the repository.
func (s *SessionService) VerifyAccessToken(ctx context.Context, tokenString string) (*domain.Session, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	session, err := s.VerifySession(ctx, sessionID, claims.Secret)
	if err != nil {
		return nil, err
	}
	if session.UserID.String() != claims.Subject {
		return nil, domain.ErrInvalidToken
	}
	return session, nil
}

// VerifySession loads a session and checks secret against its access hash.
func (s *SessionService) VerifySession(ctx context.Context, sessionID uuid.UUID, secret string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Keep the work on this path comparable to a hash mismatch.
			VerifyToken(secret, "")
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}

	valid := VerifyToken(secret, session.AccessTokenHash)
	if !valid || session.IsExpired(s.now(), s.config.IdleTimeout) {
		return nil, domain.ErrInvalidToken
	}
	return session, nil
}

// VerifyCSRF reports whether token is the CSRF secret bound to session.
func (s *SessionService) VerifyCSRF(session *domain.Session, token string) bool {
	if session == nil {
		return false
	}
	return VerifyToken(token, session.CSRFTokenHash)
}

// RotateSession exchanges a refresh token for new access and refresh secrets.
// Presenting the refresh token that the last rotation replaced revokes the
// session. Any other unknown secret is rejected without touching it.
func (s *SessionService) RotateSession(ctx context.Context, refreshToken string, device *domain.DeviceMetadata) (*IssuedSession, error) {
	rawID, secret, ok := strings.Cut(refreshToken, refreshTokenSep)
	if !ok || secret == "" {
		return nil, domain.ErrInvalidToken
	}
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}

	now := s.now()
	if session.IsExpired(now, s.config.IdleTimeout) {
		return nil, domain.ErrInvalidToken
	}

	if !VerifyToken(secret, session.RefreshTokenHash) {
		if session.PreviousRefreshTokenHash == "" || !VerifyToken(secret, session.PreviousRefreshTokenHash) {
			return nil, domain.ErrInvalidToken
		}
		if err := s.RevokeSession(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("revoke session after refresh reuse: %w", err)
		}
		return nil, domain.ErrRefreshReuse
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrInvalidToken
	}

	accessSecret, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, err
	}
	refreshSecret, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, err
	}

	accessHash := HashToken(accessSecret)
	refreshHash := HashToken(refreshSecret)
	if err := s.sessions.UpdateTokens(ctx, session.ID, session.RefreshTokenHash, accessHash, refreshHash); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("rotate session tokens: %w", err)
	}
	session.PreviousRefreshTokenHash = session.RefreshTokenHash
	session.AccessTokenHash = accessHash
	session.RefreshTokenHash = refreshHash

	if err := s.sessions.UpdateActivity(ctx, session.ID, now, device); err == nil {
		session.LastActivity = now
	}

	accessToken, accessExp, err := s.signAccessToken(session, accessSecret, now)
	if err != nil {
		return nil, err
	}

	return &IssuedSession{
		Session:         session,
		AccessToken:     accessToken,
		RefreshToken:    session.ID.String() + refreshTokenSep + refreshSecret,
		AccessExpiresAt: accessExp,
	}, nil
}

// SweepExpired deletes sessions past their absolute expiry or idle timeout.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var idleCutoff time.Time
	if s.config.IdleTimeout > 0 {
		idleCutoff = now.Add(-s.config.IdleTimeout)
	}
	return s.sessions.DeleteExpired(ctx, now, idleCutoff)
}

func (s *SessionService) signAccessToken(session *domain.Session, secret string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.config.AccessTokenTTL)
	if session.ExpiresAt.Before(expiresAt) {
		expiresAt = session.ExpiresAt
	}

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        session.ID.String(),
		},
		Secret: secret,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}
