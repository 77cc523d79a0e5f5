package deskauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestDesk(t *testing.T) *Desk {
	t.Helper()
	desk, err := New(Config{
		JWTSecret:      testSecret,
		CookieInsecure: true,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(desk.Close)
	return desk
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing secret")
	}
	if _, err := New(Config{JWTSecret: "short"}); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestDesk_HostRoutes(t *testing.T) {
	desk := newTestDesk(t)
	userID, err := desk.EnsureUser(context.Background(), "guide@example.com", "Guide", "editor", "correct horse battery")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	r := chi.NewRouter()
	r.Mount("/", desk.Router())
	r.With(desk.ProtectReadOnly()).Get("/bookings", func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r)
		if !ok {
			t.Error("GetUser: no user in context")
			return
		}
		id, _ := GetUserID(r)
		_, _ = io.WriteString(w, user.Email+" "+id.String())
	})
	r.With(desk.Protect()).Post("/bookings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	login := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"guide@example.com","password":"correct horse battery"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, login)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()

	withCookies := func(req *http.Request) *http.Request {
		for _, c := range cookies {
			req.AddCookie(c)
		}
		return req
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/bookings", nil)))
	if rec.Code != http.StatusOK || rec.Body.String() != "guide@example.com "+userID.String() {
		t.Errorf("GET /bookings = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodPost, "/bookings", nil)))
	if rec.Code != http.StatusCreated {
		t.Errorf("POST /bookings = %d, want 201", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous GET /bookings = %d, want 401", rec.Code)
	}

	got, err := desk.UserID(withCookies(httptest.NewRequest(http.MethodGet, "/ws", nil)))
	if err != nil || got != userID {
		t.Errorf("UserID = %s, %v", got, err)
	}

	if err := desk.RevokeUserSessions(context.Background(), userID); err != nil {
		t.Fatalf("RevokeUserSessions: %v", err)
	}
	if _, err := desk.UserID(withCookies(httptest.NewRequest(http.MethodGet, "/ws", nil))); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("UserID after revoke error = %v, want ErrUnauthenticated", err)
	}
	if id, err := desk.UserID(httptest.NewRequest(http.MethodGet, "/ws", nil)); id != uuid.Nil || !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("anonymous UserID = %s, %v", id, err)
	}
}

func TestDesk_SetUserActive(t *testing.T) {
	desk := newTestDesk(t)
	ctx := context.Background()
	userID, err := desk.EnsureUser(ctx, "guide@example.com", "Guide", "", "correct horse battery")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	router := desk.Router()
	login := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"email":"guide@example.com","password":"correct horse battery"}`)))
		return rec
	}

	if rec := login(); rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	if err := desk.SetUserActive(ctx, userID, false); err != nil {
		t.Fatalf("SetUserActive(false): %v", err)
	}
	if rec := login(); rec.Code != http.StatusUnauthorized {
		t.Errorf("disabled login status = %d, want 401", rec.Code)
	}
	if err := desk.SetUserActive(ctx, userID, true); err != nil {
		t.Fatalf("SetUserActive(true): %v", err)
	}
	if rec := login(); rec.Code != http.StatusOK {
		t.Errorf("re-enabled login status = %d, want 200", rec.Code)
	}
	if err := desk.SetUserActive(ctx, uuid.New(), false); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestDesk_RouterLimitsBodySize(t *testing.T) {
	desk, err := New(Config{
		JWTSecret:       testSecret,
		CookieInsecure:  true,
		MaxRequestBytes: 256,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(desk.Close)

	body := `{"email":"guide@example.com","password":"` + strings.Repeat("x", 512) + `"}`
	rec := httptest.NewRecorder()
	desk.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized login status = %d, want 413", rec.Code)
	}

	if got := newTestDesk(t).config.MaxRequestBytes; got != 1<<20 {
		t.Errorf("default MaxRequestBytes = %d, want %d", got, 1<<20)
	}
}
