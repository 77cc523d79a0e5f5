package httputil

import (
	"net/http"
	"time"
)

// Cookie names.
const (
	AccessTokenCookie  = "access-token"
	RefreshTokenCookie = "refresh-token"
	CSRFTokenCookie    = "csrf-token"
)

// CookieConfig holds cookie configuration.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool // Set to true in production (HTTPS)
	SameSite http.SameSite
	// CSRFReadable leaves the CSRF cookie without HttpOnly so page scripts can
	// echo it in the X-CSRF-Token header.
	CSRFReadable bool
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		Secure:   false, // Set to true in production
		SameSite: http.SameSiteLaxMode,
	}
}

// AuthCookies are the session secrets written to the client.
type AuthCookies struct {
	AccessToken  string
	RefreshToken string
	// CSRFToken is left untouched when empty.
	CSRFToken string
	// AccessTTL bounds the access cookie; SessionTTL bounds the other two.
	AccessTTL  time.Duration
	SessionTTL time.Duration
}

// SetAuthCookies writes the session cookies.
func SetAuthCookies(w http.ResponseWriter, c AuthCookies, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(AccessTokenCookie, c.AccessToken, int(c.AccessTTL.Seconds()), true))
	http.SetCookie(w, cfg.cookie(RefreshTokenCookie, c.RefreshToken, int(c.SessionTTL.Seconds()), true))
	if c.CSRFToken != "" {
		http.SetCookie(w, cfg.cookie(CSRFTokenCookie, c.CSRFToken, int(c.SessionTTL.Seconds()), !cfg.CSRFReadable))
	}
}

// ClearAuthCookies expires all three session cookies.
func ClearAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(AccessTokenCookie, "", -1, true))
	http.SetCookie(w, cfg.cookie(RefreshTokenCookie, "", -1, true))
	http.SetCookie(w, cfg.cookie(CSRFTokenCookie, "", -1, !cfg.CSRFReadable))
}

func (cfg CookieConfig) cookie(name, value string, maxAge int, httpOnly bool) *http.Cookie {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// CookieValue returns the value of the named cookie, or "" when absent.
func CookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
