package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a login session. Only digests of the session secrets are kept.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AccessTokenHash  string
	RefreshTokenHash string
	// PreviousRefreshTokenHash is the refresh hash replaced by the last
	// rotation. Presenting its secret again proves the token was copied.
	PreviousRefreshTokenHash string
	CSRFTokenHash            string
	Device                   DeviceMetadata
	LastActivity             time.Time
	CreatedAt                time.Time
	ExpiresAt                time.Time
}

// DeviceMetadata describes the client that owns a session. It is informational
// and never used for authorization decisions.
type DeviceMetadata struct {
	Device    string `json:"device,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsExpired reports whether the session is past its absolute expiry or has been
// idle for longer than idleTimeout. A zero idleTimeout disables the idle check.
func (s *Session) IsExpired(now time.Time, idleTimeout time.Duration) bool {
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return true
	}
	if idleTimeout > 0 && !s.LastActivity.IsZero() && now.Sub(s.LastActivity) > idleTimeout {
		return true
	}
	return false
}
