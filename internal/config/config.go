package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

const minJWTSecretLen = 32

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	MaxRequestBytes int64
	LogLevel        string

	// Database
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxOpenConns int

	// Session store
	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret string
	JWTIssuer string

	// Session policy
	AccessTokenTTL       time.Duration
	SessionTTL           time.Duration
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	AuthLookupTimeout    time.Duration

	// Cookies
	CookieSecure       bool
	CookieDomain       string
	CookieSameSite     http.SameSite
	// CSRFHeaderRequired makes X-CSRF-Token mandatory on mutating requests.
	// Off by default: the CSRF cookie is HttpOnly and travels with the access
	// cookie, so forgery protection then rests on CookieSameSite alone.
	CSRFHeaderRequired bool

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	PasswordPolicy  PasswordPolicyConfig
	Seed            SeedConfig
}

// SeedConfig describes the account provisioned by cmd/seed, and at startup
// when sessions and users live in memory.
type SeedConfig struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// RateLimitConfig holds per-IP limits for the credential endpoints.
type RateLimitConfig struct {
	Enabled         bool
	LoginRequests   int
	LoginWindow     time.Duration
	RefreshRequests int
	RefreshWindow   time.Duration
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBytes: int64(getEnvInt("MAX_REQUEST_BYTES", 1<<20)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		SessionStore:  strings.ToLower(getEnv("SESSION_STORE", StorePostgres)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "tourdesk"),

		AccessTokenTTL:       getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:           getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SessionIdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", 24*time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		AuthLookupTimeout:    getEnvDuration("AUTH_LOOKUP_TIMEOUT", 3*time.Second),

		CookieSecure:       getEnvBool("COOKIE_SECURE", true),
		CookieDomain:       getEnv("COOKIE_DOMAIN", ""),
		CookieSameSite:     parseSameSite(getEnv("COOKIE_SAMESITE", "lax")),
		CSRFHeaderRequired: getEnvBool("CSRF_HEADER_REQUIRED", false),

		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			LoginRequests:   getEnvInt("RATE_LIMIT_LOGIN_REQUESTS", 10),
			LoginWindow:     getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", time.Minute),
			RefreshRequests: getEnvInt("RATE_LIMIT_REFRESH_REQUESTS", 30),
			RefreshWindow:   getEnvDuration("RATE_LIMIT_REFRESH_WINDOW", time.Minute),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=()"),
		},
	}

	cfg.loadDatabase()
	cfg.loadSeed()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase loads only the database settings. Tools that touch the schema
// use it so they run without the server secrets.
func LoadDatabase() *Config {
	cfg := &Config{}
	cfg.loadDatabase()
	return cfg
}

// LoadSeed loads the database and seed account settings.
func LoadSeed() *Config {
	cfg := LoadDatabase()
	cfg.loadSeed()
	return cfg
}

func (c *Config) loadSeed() {
	c.Seed = SeedConfig{
		Email:    getEnv("SEED_USER_EMAIL", ""),
		Password: getEnv("SEED_USER_PASSWORD", ""),
		Name:     getEnv("SEED_USER_NAME", "Administrator"),
		Role:     getEnv("SEED_USER_ROLE", "admin"),
	}
	c.PasswordPolicy = PasswordPolicyConfig{
		MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 12),
		RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
		RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
		RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
		RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
	}
}

func (c *Config) loadDatabase() {
	c.DBHost = getEnv("DB_HOST", "localhost")
	c.DBPort = getEnvInt("DB_PORT", 5432)
	c.DBUser = getEnv("DB_USER", "postgres")
	c.DBPassword = getEnv("DB_PASSWORD", "postgres")
	c.DBName = getEnv("DB_NAME", "tourdesk")
	c.DBSSLMode = getEnv("DB_SSLMODE", "disable")
	c.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	switch c.SessionStore {
	case StorePostgres, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be one of %s, %s, %s; got %q", StorePostgres, StoreRedis, StoreMemory, c.SessionStore)
	}
	if c.AccessTokenTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL and SESSION_TTL must be positive")
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must not be negative")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
