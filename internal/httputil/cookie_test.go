package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestSetAuthCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	cfg := CookieConfig{Path: "/", Secure: true, SameSite: http.SameSiteStrictMode, Domain: "tours.example"}
	SetAuthCookies(rec, AuthCookies{
		AccessToken:  "a",
		RefreshToken: "r",
		CSRFToken:    "c",
		AccessTTL:    15 * time.Minute,
		SessionTTL:   24 * time.Hour,
	}, cfg)

	cookies := cookiesByName(rec)
	if len(cookies) != 3 {
		t.Fatalf("got %d cookies, want 3", len(cookies))
	}
	tests := []struct {
		name   string
		value  string
		maxAge int
	}{
		{AccessTokenCookie, "a", 900},
		{RefreshTokenCookie, "r", 86400},
		{CSRFTokenCookie, "c", 86400},
	}
	for _, tt := range tests {
		c := cookies[tt.name]
		if c == nil {
			t.Fatalf("cookie %s missing", tt.name)
		}
		if c.Value != tt.value || c.MaxAge != tt.maxAge {
			t.Errorf("%s = %q max-age %d, want %q max-age %d", tt.name, c.Value, c.MaxAge, tt.value, tt.maxAge)
		}
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Domain != "tours.example" {
			t.Errorf("%s attributes = %+v", tt.name, c)
		}
	}
}

func TestSetAuthCookies_WithoutCSRF(t *testing.T) {
	rec := httptest.NewRecorder()
	SetAuthCookies(rec, AuthCookies{AccessToken: "a", RefreshToken: "r", AccessTTL: time.Minute, SessionTTL: time.Hour}, DefaultCookieConfig())

	cookies := cookiesByName(rec)
	if _, ok := cookies[CSRFTokenCookie]; ok {
		t.Error("csrf cookie written without a token")
	}
	if len(cookies) != 2 {
		t.Errorf("got %d cookies, want 2", len(cookies))
	}
}

func TestClearAuthCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	cfg := DefaultCookieConfig()
	cfg.CSRFReadable = true
	ClearAuthCookies(rec, cfg)

	cookies := cookiesByName(rec)
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, CSRFTokenCookie} {
		c := cookies[name]
		if c == nil {
			t.Fatalf("cookie %s not cleared", name)
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("%s = %+v, want expired", name, c)
		}
	}
	if cookies[CSRFTokenCookie].HttpOnly {
		t.Error("readable csrf cookie cleared with HttpOnly")
	}
}

func TestCookieValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "tok"})

	if got := CookieValue(req, AccessTokenCookie); got != "tok" {
		t.Errorf("CookieValue() = %q, want tok", got)
	}
	if got := CookieValue(req, CSRFTokenCookie); got != "" {
		t.Errorf("CookieValue() for missing cookie = %q", got)
	}
}
