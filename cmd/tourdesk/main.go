package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/tourdesk/internal/config"
	httpserver "github.com/tendant/tourdesk/internal/http"
	"github.com/tendant/tourdesk/internal/http/middleware"
	"github.com/tendant/tourdesk/internal/httputil"
	"github.com/tendant/tourdesk/internal/seed"
	"github.com/tendant/tourdesk/pkg/auth"
	"github.com/tendant/tourdesk/pkg/repository"
)

// stores holds the persistence backends selected by SESSION_STORE.
type stores struct {
	users    auth.UserRepository
	creds    auth.CredentialsRepository
	sessions auth.SessionRepository
	closers  []func() error
}

func (s *stores) close(logger *slog.Logger) {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	policy := auth.PasswordPolicy{
		MinLength:        cfg.PasswordPolicy.MinLength,
		RequireUppercase: cfg.PasswordPolicy.RequireUppercase,
		RequireLowercase: cfg.PasswordPolicy.RequireLowercase,
		RequireNumber:    cfg.PasswordPolicy.RequireNumber,
		RequireSpecial:   cfg.PasswordPolicy.RequireSpecial,
	}

	st, err := openStores(cfg, policy, logger)
	if err != nil {
		logger.Error("failed to open stores", "store", cfg.SessionStore, "error", err)
		os.Exit(1)
	}
	defer st.close(logger)

	passwordService := auth.NewPasswordService(st.users, st.creds).WithPolicy(policy)
	sessionService := auth.NewSessionService(auth.SessionConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
		SessionTTL:     cfg.SessionTTL,
		IdleTimeout:    cfg.SessionIdleTimeout,
	}, st.sessions, st.users)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewMetrics(registry)

	authn := middleware.NewAuthenticator(sessionService, st.users, logger, middleware.AuthenticatorConfig{
		LookupTimeout:      cfg.AuthLookupTimeout,
		CSRFHeaderRequired: cfg.CSRFHeaderRequired,
	}).WithMetrics(metrics)

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		PasswordService: passwordService,
		SessionService:  sessionService,
		Authenticator:   authn,
		Metrics:         metrics,
		Gatherer:        registry,
		CookieConfig: httputil.CookieConfig{
			Domain:       cfg.CookieDomain,
			Path:         "/",
			Secure:       cfg.CookieSecure,
			SameSite:     cfg.CookieSameSite,
			CSRFReadable: cfg.CSRFHeaderRequired,
		},
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		MaxRequestBytes: cfg.MaxRequestBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepSessions(ctx, sessionService, cfg.SessionSweepInterval, logger)
	}()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr, "session_store", cfg.SessionStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		stop()
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	<-sweepDone
	authn.Wait()

	logger.Info("server stopped")
}

func openStores(cfg *config.Config, policy auth.PasswordPolicy, logger *slog.Logger) (*stores, error) {
	if cfg.SessionStore == config.StoreMemory {
		mem := repository.NewMemoryStore()
		st := &stores{users: mem.Users(), creds: mem.Credentials(), sessions: mem.Sessions()}
		logger.Warn("using in-memory store; users and sessions are lost on restart")

		if cfg.Seed.Email != "" {
			passwords := auth.NewPasswordService(mem.Users(), mem.Credentials()).WithPolicy(policy)
			user, _, err := seed.EnsureUser(context.Background(), mem.Users(), passwords, seed.Account{
				Email:    cfg.Seed.Email,
				Name:     cfg.Seed.Name,
				Role:     cfg.Seed.Role,
				Password: cfg.Seed.Password,
			})
			if err != nil {
				return nil, err
			}
			logger.Info("seeded user", "user_id", user.ID, "email", user.Email)
		}
		return st, nil
	}

	db, err := repository.NewDB(repository.Config{
		Host:         cfg.DBHost,
		Port:         cfg.DBPort,
		User:         cfg.DBUser,
		Password:     cfg.DBPassword,
		DBName:       cfg.DBName,
		SSLMode:      cfg.DBSSLMode,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	st := &stores{
		users:    repository.NewUsersRepository(db),
		creds:    repository.NewCredentialsRepository(db),
		sessions: repository.NewSessionsRepository(db),
		closers:  []func() error{db.Close},
	}

	if cfg.SessionStore == config.StoreRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			_ = db.Close()
			return nil, err
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		st.sessions = repository.NewRedisSessionsRepository(client)
		st.closers = append(st.closers, client.Close)
	}
	return st, nil
}

// sweepSessions deletes expired sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, sessions *auth.SessionService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("session sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("swept expired sessions", "count", n)
			}
		}
	}
}
