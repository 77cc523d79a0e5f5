package session

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/tourdesk/internal/http/middleware"
	"github.com/tendant/tourdesk/internal/httputil"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/domain"
)

// Handler handles login, logout and session management endpoints.
type Handler struct {
	logger       *slog.Logger
	passwords    *auth.PasswordService
	sessions     *auth.SessionService
	authn        *middleware.Authenticator
	cookieConfig httputil.CookieConfig
	validate     *httputil.Validator
}

// NewHandler creates a new session handler.
func NewHandler(
	logger *slog.Logger,
	passwords *auth.PasswordService,
	sessions *auth.SessionService,
	authn *middleware.Authenticator,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:       logger,
		passwords:    passwords,
		sessions:     sessions,
		authn:        authn,
		cookieConfig: cookieConfig,
		validate:     httputil.NewValidator(),
	}
}

// RegisterRoutes registers the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router, limiters middleware.RateLimiters) {
	r.With(limiters.Login).Post("/v1/auth/login", h.Login)
	r.With(limiters.Refresh).Post("/v1/auth/refresh", h.Refresh)
	r.Post("/v1/auth/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Protect(h.authn, middleware.SkipCSRF()))
		r.Get("/v1/auth/me", h.Me)
		r.Get("/v1/sessions", h.List)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Protect(h.authn))
		r.Delete("/v1/sessions/{id}", h.Revoke)
		r.Post("/v1/sessions/revoke-all", h.RevokeAll)
	})
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// UserResponse is the client-safe projection of a user.
type UserResponse struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	Name                 string `json:"name"`
	Role                 string `json:"role"`
	RequirePasswordReset bool   `json:"require_password_reset"`
}

// SessionResponse is the client-safe projection of a session. It never
// carries token material.
type SessionResponse struct {
	ID           string    `json:"id"`
	Device       string    `json:"device,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	OS           string    `json:"os,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	Country      string    `json:"country,omitempty"`
	City         string    `json:"city,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Success bool         `json:"success"`
	User    UserResponse `json:"user"`
}

// MeResponse describes the caller and the current session.
type MeResponse struct {
	User    UserResponse    `json:"user"`
	Session SessionResponse `json:"session"`
}

// ListResponse lists the caller's sessions.
type ListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// Login verifies credentials and starts a session.
// POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.passwords.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			httputil.Error(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, domain.ErrAccountLocked):
			httputil.Error(w, http.StatusForbidden, "account temporarily locked due to too many failed login attempts. Please try again in 15 minutes.")
		default:
			h.logger.Error("login failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	issued, err := h.sessions.CreateSession(r.Context(), user.ID, auth.DeviceFromRequest(r))
	if err != nil {
		h.logger.Error("failed to create session", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.setCookies(w, issued)
	h.logger.Info("user logged in", "user_id", user.ID, "session_id", issued.Session.ID)
	httputil.JSON(w, http.StatusOK, LoginResponse{Success: true, User: toUserResponse(user)})
}

// Logout revokes the current session when the caller is authenticated and
// always clears the session cookies.
// POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if res, ok := h.authn.RequireAuth(r).(middleware.Authenticated); ok {
		if err := h.sessions.RevokeSession(r.Context(), res.SessionID); err != nil {
			h.logger.Error("failed to revoke session on logout", "session_id", res.SessionID, "error", err)
		} else {
			h.logger.Info("user logged out", "user_id", res.UserID, "session_id", res.SessionID)
		}
	}

	httputil.ClearAuthCookies(w, h.cookieConfig)
	httputil.Success(w)
}

// Refresh exchanges the refresh-token cookie for new session secrets.
// POST /v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := httputil.CookieValue(r, httputil.RefreshTokenCookie)
	if refreshToken == "" {
		httputil.ClearAuthCookies(w, h.cookieConfig)
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	device := auth.DeviceFromRequest(r)
	issued, err := h.sessions.RotateSession(r.Context(), refreshToken, &device)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRefreshReuse):
			h.logger.Warn("refresh token reuse detected, session revoked", "ip", device.IPAddress)
		case errors.Is(err, domain.ErrInvalidToken):
		default:
			h.logger.Error("failed to refresh session", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		httputil.ClearAuthCookies(w, h.cookieConfig)
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.setCookies(w, issued)
	httputil.Success(w)
}

// Me returns the authenticated user and the current session.
// GET /v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.GetAuth(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	httputil.JSON(w, http.StatusOK, MeResponse{
		User:    toUserResponse(res.User),
		Session: toSessionResponse(res.Session, res.SessionID),
	})
}

// List returns the caller's live sessions, most recent first.
// GET /v1/sessions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.GetAuth(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessions, err := h.sessions.GetUserSessions(r.Context(), res.UserID)
	if err != nil {
		h.logger.Error("failed to list sessions", "user_id", res.UserID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	out := ListResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, toSessionResponse(s, res.SessionID))
	}
	httputil.JSON(w, http.StatusOK, out)
}

// Revoke revokes one of the caller's sessions.
// DELETE /v1/sessions/{id}
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.GetAuth(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	target, err := h.sessions.GetSessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			httputil.Error(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to load session", "session_id", id, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if target.UserID != res.UserID {
		h.logger.Warn("attempt to revoke another user's session", "user_id", res.UserID, "session_id", id)
		httputil.Error(w, http.StatusForbidden, "Forbidden")
		return
	}

	if err := h.sessions.RevokeSession(r.Context(), id); err != nil {
		h.logger.Error("failed to revoke session", "session_id", id, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if id == res.SessionID {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}
	httputil.Success(w)
}

// RevokeAll revokes every session of the caller, including the current one.
// POST /v1/sessions/revoke-all
func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.GetAuth(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.sessions.RevokeAllSessions(r.Context(), res.UserID); err != nil {
		h.logger.Error("failed to revoke all sessions", "user_id", res.UserID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	httputil.ClearAuthCookies(w, h.cookieConfig)
	httputil.Success(w)
}

func (h *Handler) setCookies(w http.ResponseWriter, issued *auth.IssuedSession) {
	httputil.SetAuthCookies(w, httputil.AuthCookies{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		CSRFToken:    issued.CSRFToken,
		AccessTTL:    time.Until(issued.AccessExpiresAt),
		SessionTTL:   time.Until(issued.Session.ExpiresAt),
	}, h.cookieConfig)
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:                   u.ID.String(),
		Email:                u.Email,
		Name:                 u.Name,
		Role:                 u.Role,
		RequirePasswordReset: u.RequirePasswordReset,
	}
}

func toSessionResponse(s *domain.Session, current uuid.UUID) SessionResponse {
	return SessionResponse{
		ID:           s.ID.String(),
		Device:       s.Device.Device,
		Browser:      s.Device.Browser,
		OS:           s.Device.OS,
		IPAddress:    s.Device.IPAddress,
		Country:      s.Device.Country,
		City:         s.Device.City,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		IsCurrent:    s.ID == current,
	}
}
