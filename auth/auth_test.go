package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/kit"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken(testSecret, &Claims{UserID: "u1", Email: "a@b.ge", Role: RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c, err := ValidateToken(testSecret, tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u1" || c.Subject != "u1" || !c.IsAdmin() {
		t.Errorf("claims = %+v", c)
	}
}

func TestToken_ShortSecret(t *testing.T) {
	if _, err := GenerateToken([]byte("short"), &Claims{}, time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestToken_Rejects(t *testing.T) {
	expired, _ := GenerateToken(testSecret, &Claims{UserID: "u"}, -time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u"})
	noneStr, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	other, _ := GenerateToken([]byte("ffffffffffffffffffffffffffffffff"), &Claims{UserID: "u"}, time.Hour)

	for name, tok := range map[string]string{
		"expired":   expired,
		"alg none":  noneStr,
		"wrong key": other,
		"garbage":   "not.a.token",
	} {
		if _, err := ValidateToken(testSecret, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func newUsers(t *testing.T) *Users {
	t.Helper()
	return NewUsers(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestUsers_CreateAuthenticate(t *testing.T) {
	u := newUsers(t)
	ctx := context.Background()

	usr, err := u.Create(ctx, "Nino@Example.ge", "ნინო", "password1", "superuser")
	if err != nil {
		t.Fatal(err)
	}
	if usr.Email != "nino@example.ge" || usr.Role != RoleUser {
		t.Errorf("user = %+v", usr)
	}

	if _, err := u.Create(ctx, "nino@example.ge", "", "password2", ""); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := u.Create(ctx, "x@example.ge", "", "short", ""); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password: err = %v", err)
	}

	c, err := u.Authenticate(ctx, " NINO@example.ge ", "password1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != usr.ID || c.Name != "ნინო" {
		t.Errorf("claims = %+v", c)
	}

	if _, err := u.Authenticate(ctx, "nino@example.ge", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := u.Authenticate(ctx, "nobody@example.ge", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: err = %v", err)
	}

	u.Delete(ctx, usr.ID)
	if _, err := u.Authenticate(ctx, "nino@example.ge", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("deleted user: err = %v", err)
	}
}

func TestUsers_SeedAdmin(t *testing.T) {
	u := newUsers(t)
	ctx := context.Background()

	if err := u.SeedAdmin(ctx, "admin@portal.ge", "admin-pass"); err != nil {
		t.Fatal(err)
	}
	if err := u.SeedAdmin(ctx, "other@portal.ge", "admin-pass"); err != nil {
		t.Fatal(err)
	}
	list, _ := u.List(ctx)
	if len(list) != 1 || list[0].Role != RoleAdmin {
		t.Fatalf("users = %+v, want one admin", list)
	}
}

func TestRequireAdmin(t *testing.T) {
	adminTok, _ := GenerateToken(testSecret, &Claims{UserID: "a", Role: RoleAdmin}, time.Hour)
	userTok, _ := GenerateToken(testSecret, &Claims{UserID: "u", Role: RoleUser}, time.Hour)

	var gotUser, gotRole string
	h := Middleware(testSecret)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotRole = kit.GetUserID(r.Context()), kit.GetRole(r.Context())
	})))

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"no session", func(*http.Request) {}, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") }, http.StatusUnauthorized},
		{"user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+userTok) }, http.StatusForbidden},
		{"admin cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: adminTok}) }, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		tt.setup(req)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.name, w.Code, tt.status)
		}
	}
	if gotUser != "a" || gotRole != RoleAdmin {
		t.Errorf("context user=%q role=%q", gotUser, gotRole)
	}
}

func TestHandler_Login(t *testing.T) {
	u := newUsers(t)
	u.Create(context.Background(), "editor@portal.ge", "Editor", "correct-horse", RoleAdmin)

	r := chi.NewRouter()
	r.Use(Middleware(testSecret))
	r.Route("/api/auth", NewHandler(u, testSecret, time.Hour).Routes)

	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"email":"editor@portal.ge","password":"correct-horse"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", cookie)
	}

	req = httptest.NewRequest("GET", "/api/auth/me", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var me map[string]string
	json.NewDecoder(w.Body).Decode(&me)
	if w.Code != http.StatusOK || me["email"] != "editor@portal.ge" || me["role"] != RoleAdmin {
		t.Fatalf("me: %d %v", w.Code, me)
	}

	req = httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"email":"editor@portal.ge","password":"nope"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", w.Code)
	}
}
