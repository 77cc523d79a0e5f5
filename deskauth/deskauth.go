// Package deskauth embeds the tourdesk session layer in another Go service.
//
// Setup:
//
//  1. Apply the migrations (go run ./cmd/migrate)
//  2. Create a Desk and mount its routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/tours?sslmode=disable")
//
//	desk, err := deskauth.New(deskauth.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
//	if err != nil {
//	    log.Fatal(err) // fails when the schema is missing
//	}
//	defer desk.Close()
//
//	r := chi.NewRouter()
//	r.Mount("/", desk.Router())
//	r.With(desk.Protect()).Post("/bookings", createBooking)
//	r.With(desk.ProtectReadOnly()).Get("/bookings", listBookings)
//
// With sessions in Redis:
//
//	desk, err := deskauth.New(deskauth.Config{
//	    DB:        db,
//	    Redis:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	})
package deskauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/tourdesk/internal/config"
	"github.com/tendant/tourdesk/internal/http/features/session"
	"github.com/tendant/tourdesk/internal/http/middleware"
	"github.com/tendant/tourdesk/internal/httputil"
	"github.com/tendant/tourdesk/internal/seed"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/repository"
)

// Config holds the configuration of an embedded session layer.
type Config struct {
	// DB holds users, passwords and sessions. When nil everything lives in
	// process memory, which only suits tests and demos.
	DB *sql.DB

	// Redis, when set, stores sessions instead of DB.
	Redis *redis.Client

	// JWTSecret signs access tokens (required, min 32 bytes).
	JWTSecret string

	// JWTIssuer is the iss claim of access tokens (default: "tourdesk").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens (default: 15 minutes).
	AccessTokenTTL time.Duration

	// SessionTTL is the absolute session lifetime (default: 7 days).
	SessionTTL time.Duration

	// IdleTimeout expires sessions without activity (default: 24 hours).
	// Negative disables it.
	IdleTimeout time.Duration

	CookieDomain   string
	CookieInsecure bool // drop the Secure flag, for plain-HTTP development

	// CSRFHeaderRequired makes X-CSRF-Token mandatory on mutating requests.
	// When false, forgery protection relies on the SameSite cookie attribute.
	CSRFHeaderRequired bool

	// LoginPerMinute and RefreshPerMinute limit credential requests per IP.
	// Zero disables the limit.
	LoginPerMinute   int
	RefreshPerMinute int

	// MaxRequestBytes caps request bodies on Router (default: 1 MiB).
	MaxRequestBytes int64

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// userStore is what both the Postgres and the in-memory user stores provide.
type userStore interface {
	auth.UserRepository
	seed.UserStore
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Desk is an embedded session layer.
type Desk struct {
	config    Config
	users     userStore
	passwords *auth.PasswordService
	sessions  *auth.SessionService
	authn     *middleware.Authenticator
}

// New creates a Desk. It returns an error when the database schema has not
// been migrated.
func New(cfg Config) (*Desk, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	var (
		users    userStore
		creds    auth.CredentialsRepository
		sessions auth.SessionRepository
	)
	if cfg.DB != nil {
		if err := validateSchema(cfg.DB, cfg.Redis == nil); err != nil {
			return nil, err
		}
		users = repository.NewUsersRepository(cfg.DB)
		creds = repository.NewCredentialsRepository(cfg.DB)
		sessions = repository.NewSessionsRepository(cfg.DB)
	} else {
		mem := repository.NewMemoryStore()
		users, creds, sessions = mem.Users(), mem.Credentials(), mem.Sessions()
	}
	if cfg.Redis != nil {
		sessions = repository.NewRedisSessionsRepository(cfg.Redis)
	}

	sessionService := auth.NewSessionService(auth.SessionConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
		SessionTTL:     cfg.SessionTTL,
		IdleTimeout:    max(cfg.IdleTimeout, 0),
	}, sessions, users)

	return &Desk{
		config:    cfg,
		users:     users,
		passwords: auth.NewPasswordService(users, creds),
		sessions:  sessionService,
		authn: middleware.NewAuthenticator(sessionService, users, cfg.Logger, middleware.AuthenticatorConfig{
			CSRFHeaderRequired: cfg.CSRFHeaderRequired,
		}),
	}, nil
}

// Router returns a chi router with the login, refresh, logout and session
// management routes under /v1.
func (d *Desk) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(d.config.Logger))
	r.Use(middleware.RequestSizeLimit(d.config.MaxRequestBytes))

	limiters := middleware.CreateRateLimiters(config.RateLimitConfig{
		Enabled:         d.config.LoginPerMinute > 0 || d.config.RefreshPerMinute > 0,
		LoginRequests:   limitOrUnbounded(d.config.LoginPerMinute),
		LoginWindow:     time.Minute,
		RefreshRequests: limitOrUnbounded(d.config.RefreshPerMinute),
		RefreshWindow:   time.Minute,
	}, d.config.Logger)

	cookies := httputil.DefaultCookieConfig()
	cookies.Domain = d.config.CookieDomain
	cookies.Secure = !d.config.CookieInsecure
	cookies.CSRFReadable = d.config.CSRFHeaderRequired

	session.NewHandler(d.config.Logger, d.passwords, d.sessions, d.authn, cookies).RegisterRoutes(r, limiters)
	return r
}

// Protect returns middleware that admits authenticated, CSRF-checked requests.
// Use it on state-changing routes.
func (d *Desk) Protect() func(http.Handler) http.Handler {
	return middleware.Protect(d.authn)
}

// ProtectReadOnly returns middleware that admits authenticated requests
// without the CSRF check. Use it on safe methods only.
func (d *Desk) ProtectReadOnly() func(http.Handler) http.Handler {
	return middleware.Protect(d.authn, middleware.SkipCSRF())
}

// GetUserID extracts the user ID stored by Protect or ProtectReadOnly.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	return middleware.GetUserID(r.Context())
}

// User is the caller as seen by host handlers.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Role      string
	SessionID uuid.UUID
}

// GetUser returns the caller stored by Protect or ProtectReadOnly.
func GetUser(r *http.Request) (*User, bool) {
	res, ok := middleware.GetAuth(r.Context())
	if !ok {
		return nil, false
	}
	return &User{
		ID:        res.User.ID,
		Email:     res.User.Email,
		Name:      res.User.Name,
		Role:      res.User.Role,
		SessionID: res.SessionID,
	}, true
}

// EnsureUser creates an account, or resets the password of an existing one.
func (d *Desk) EnsureUser(ctx context.Context, email, name, role, password string) (uuid.UUID, error) {
	user, _, err := seed.EnsureUser(ctx, d.users, d.passwords, seed.Account{
		Email:    email,
		Name:     name,
		Role:     role,
		Password: password,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

// RevokeUserSessions ends every session of a user, for example after the
// host disables the account.
func (d *Desk) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	return d.sessions.RevokeAllSessions(ctx, userID)
}

// SetUserActive enables or disables an account. Disabling also ends every
// session of the user.
func (d *Desk) SetUserActive(ctx context.Context, userID uuid.UUID, active bool) error {
	if err := d.users.SetActive(ctx, userID, active); err != nil {
		return err
	}
	if active {
		return nil
	}
	return d.sessions.RevokeAllSessions(ctx, userID)
}

// SweepExpired deletes expired sessions. Hosts call it periodically.
func (d *Desk) SweepExpired(ctx context.Context) (int64, error) {
	return d.sessions.SweepExpired(ctx)
}

// Close waits for background activity updates to finish.
func (d *Desk) Close() {
	d.authn.Wait()
}

// ErrUnauthenticated is returned by UserID when the request has no valid session.
var ErrUnauthenticated = errors.New("deskauth: unauthenticated")

// UserID authenticates r directly, without the CSRF check. Use it outside
// chi, for example in a websocket upgrade handler.
func (d *Desk) UserID(r *http.Request) (uuid.UUID, error) {
	switch res := d.authn.RequireAuth(r, middleware.SkipCSRF()).(type) {
	case middleware.Authenticated:
		return res.UserID, nil
	case middleware.Failed:
		if res.Status == http.StatusInternalServerError {
			return uuid.Nil, fmt.Errorf("deskauth: %s", res.Message)
		}
	}
	return uuid.Nil, ErrUnauthenticated
}

func validateConfig(cfg *Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("deskauth: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("deskauth: JWTSecret must be at least 32 bytes")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "tourdesk"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = auth.DefaultSessionTTL
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = auth.DefaultIdleTimeout
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}

func limitOrUnbounded(n int) int {
	if n <= 0 {
		return 1 << 30
	}
	return n
}

// validateSchema checks that the migrated tables exist.
func validateSchema(db *sql.DB, needSessions bool) error {
	requiredTables := []string{"users", "user_passwords"}
	if needSessions {
		requiredTables = append(requiredTables, "sessions")
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, table := range requiredTables {
		var name string
		err := db.QueryRowContext(ctx, query, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deskauth: missing table %q, run migrations first", table)
		}
		if err != nil {
			return fmt.Errorf("deskauth: check schema: %w", err)
		}
	}
	return nil
}

var (
	_ userStore = (*repository.UsersRepository)(nil)
	_ userStore = (*repository.MemoryUsers)(nil)
)
