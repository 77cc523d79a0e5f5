package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/tourdesk/internal/httputil"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/domain"
)

// CSRFHeader carries the double-submitted CSRF token.
const CSRFHeader = "X-CSRF-Token"

const (
	defaultLookupTimeout = 3 * time.Second
	defaultTouchTimeout  = 5 * time.Second
)

// Failure reasons, used for logs and metrics only.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonInactiveUser = "inactive_user"
	ReasonCSRF         = "csrf"
	ReasonTimeout      = "timeout"
	ReasonInternal     = "internal"
)

type contextKey string

const authKey contextKey = "auth"

// AuthResult is the outcome of authenticating a request. It is either
// Authenticated or Failed.
type AuthResult interface {
	authResult()
}

// Authenticated identifies the caller of a request.
type Authenticated struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	User      *domain.User
	Session   *domain.Session
}

// Failed is a rejected request with the response to send.
type Failed struct {
	Status  int
	Message string
	Reason  string
}

func (Authenticated) authResult() {}
func (Failed) authResult()        {}

// Write sends the failure as a JSON error response.
func (f Failed) Write(w http.ResponseWriter) {
	httputil.Error(w, f.Status, f.Message)
}

func unauthorized(reason string) Failed {
	return Failed{Status: http.StatusUnauthorized, Message: "Unauthorized", Reason: reason}
}

func forbidden() Failed {
	return Failed{Status: http.StatusForbidden, Message: "Forbidden", Reason: ReasonCSRF}
}

func internalError() Failed {
	return Failed{Status: http.StatusInternalServerError, Message: "Internal Server Error", Reason: ReasonInternal}
}

// AuthenticatorConfig tunes the request authenticator.
type AuthenticatorConfig struct {
	// LookupTimeout bounds each persistence lookup.
	LookupTimeout time.Duration
	// TouchTimeout bounds the background activity update.
	TouchTimeout time.Duration
	// CSRFHeaderRequired makes the X-CSRF-Token header mandatory on
	// CSRF-protected requests.
	CSRFHeaderRequired bool
}

// Authenticator derives the caller's identity from the session cookies.
type Authenticator struct {
	sessions *auth.SessionService
	users    auth.UserRepository
	logger   *slog.Logger
	metrics  *Metrics
	config   AuthenticatorConfig
	touches  sync.WaitGroup
}

// NewAuthenticator creates a new request authenticator.
func NewAuthenticator(sessions *auth.SessionService, users auth.UserRepository, logger *slog.Logger, cfg AuthenticatorConfig) *Authenticator {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = defaultTouchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		sessions: sessions,
		users:    users,
		logger:   logger,
		config:   cfg,
	}
}

// WithMetrics records authentication outcomes in m.
func (a *Authenticator) WithMetrics(m *Metrics) *Authenticator {
	a.metrics = m
	return a
}

// Option adjusts a single RequireAuth call.
type Option func(*options)

type options struct {
	skipCSRF bool
}

// SkipCSRF disables the CSRF check. Use it only on read-only endpoints.
func SkipCSRF() Option {
	return func(o *options) { o.skipCSRF = true }
}

// RequireAuth authenticates r, enforcing CSRF unless SkipCSRF is given.
func (a *Authenticator) RequireAuth(r *http.Request, opts ...Option) AuthResult {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return a.Authenticate(r, !o.skipCSRF)
}

// Authenticate resolves the access-token cookie of r to a live session and an
// active user. Every integrity failure yields the same 401; CSRF failures
// yield 403.
func (a *Authenticator) Authenticate(r *http.Request, requireCSRF bool) AuthResult {
	result := a.authenticate(r, requireCSRF)
	if a.metrics != nil {
		a.metrics.observeAuth(result)
	}
	return result
}

func (a *Authenticator) authenticate(r *http.Request, requireCSRF bool) AuthResult {
	token := httputil.CookieValue(r, httputil.AccessTokenCookie)
	if token == "" {
		return unauthorized(ReasonMissingToken)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.config.LookupTimeout)
	session, err := a.sessions.VerifyAccessToken(ctx, token)
	cancel()
	if err != nil {
		return a.lookupFailure(r, "verify session", err)
	}

	ctx, cancel = context.WithTimeout(r.Context(), a.config.LookupTimeout)
	user, err := a.users.GetByID(ctx, session.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return unauthorized(ReasonInvalidToken)
		}
		return a.lookupFailure(r, "load user", err)
	}
	if !user.Active {
		return unauthorized(ReasonInactiveUser)
	}

	if requireCSRF && !a.checkCSRF(r, session) {
		a.logger.Warn("csrf check failed",
			"session_id", session.ID,
			"path", r.URL.Path,
			"method", r.Method,
		)
		return forbidden()
	}

	a.touch(session.ID, auth.DeviceFromRequest(r))

	return Authenticated{
		UserID:    user.ID,
		SessionID: session.ID,
		User:      user,
		Session:   session,
	}
}

func (a *Authenticator) lookupFailure(r *http.Request, op string, err error) Failed {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		return unauthorized(ReasonInvalidToken)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.logger.Warn("auth lookup interrupted", "op", op, "path", r.URL.Path, "error", err)
		return unauthorized(ReasonTimeout)
	default:
		a.logger.Error("auth lookup failed", "op", op, "path", r.URL.Path, "error", err)
		return internalError()
	}
}

// checkCSRF verifies the csrf-token cookie against the session and, when
// present or required, that the header echoes the cookie.
func (a *Authenticator) checkCSRF(r *http.Request, session *domain.Session) bool {
	cookie := httputil.CookieValue(r, httputil.CSRFTokenCookie)
	if cookie == "" || !a.sessions.VerifyCSRF(session, cookie) {
		return false
	}
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return !a.config.CSRFHeaderRequired
	}
	return auth.ConstantTimeEqual(header, cookie)
}

// touch records activity in the background. It never affects the result.
func (a *Authenticator) touch(sessionID uuid.UUID, device domain.DeviceMetadata) {
	a.touches.Add(1)
	go func() {
		defer a.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.config.TouchTimeout)
		defer cancel()
		if err := a.sessions.TouchSession(ctx, sessionID, &device); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			a.logger.Warn("failed to record session activity", "session_id", sessionID, "error", err)
		}
	}()
}

// Wait blocks until pending activity updates finish.
func (a *Authenticator) Wait() {
	a.touches.Wait()
}

// Protect creates middleware that rejects unauthenticated requests and stores
// the Authenticated result in the request context.
func Protect(a *Authenticator, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch res := a.RequireAuth(r, opts...).(type) {
			case Authenticated:
				next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), res)))
			case Failed:
				res.Write(w)
			}
		})
	}
}

// WithAuth returns a copy of ctx carrying res.
func WithAuth(ctx context.Context, res Authenticated) context.Context {
	return context.WithValue(ctx, authKey, res)
}

// GetAuth extracts the authenticated caller from the request context.
func GetAuth(ctx context.Context) (Authenticated, bool) {
	res, ok := ctx.Value(authKey).(Authenticated)
	return res, ok
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	res, ok := GetAuth(ctx)
	return res.UserID, ok
}
