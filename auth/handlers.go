package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/shield"
)

// Handler serves login, logout and the admin user API.
type Handler struct {
	users  *Users
	secret []byte
	expiry time.Duration
}

// NewHandler returns the auth HTTP handlers. Sessions last expiry.
func NewHandler(users *Users, secret []byte, expiry time.Duration) *Handler {
	return &Handler{users: users, secret: secret, expiry: expiry}
}

// Routes mounts /login, /logout and /me. Expects Middleware upstream.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.With(RequireAuth).Get("/me", h.me)
}

// AdminRoutes mounts the user management API. Callers wrap it with
// RequireAdmin.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/", h.createUser)
	r.Delete("/{userID}", h.deleteUser)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "არასწორი მოთხოვნა")
		return
	}
	claims, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			shield.GetLogger(r.Context()).Error("auth: login", "error", err)
		}
		shield.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "არასწორი ელფოსტა ან პაროლი")
		return
	}
	token, err := GenerateToken(h.secret, claims, h.expiry)
	if err != nil {
		shield.GetLogger(r.Context()).Error("auth: sign token", "error", err)
		shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
		return
	}
	SetTokenCookie(w, token, h.expiry, isSecure(r))
	writeJSON(w, http.StatusOK, map[string]string{
		"id": claims.UserID, "name": claims.Name, "role": claims.Role, "token": token,
	})
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	ClearTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	c := GetClaims(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id": c.UserID, "email": c.Email, "name": c.Name, "role": c.Role,
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user, err := h.users.Create(r.Context(), req.Email, req.Name, req.Password, req.Role)
	switch {
	case errors.Is(err, ErrUserExists):
		shield.WriteError(w, http.StatusConflict, "user_exists", err.Error())
	case err != nil:
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeJSON(w, http.StatusCreated, user)
	}
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), chi.URLParam(r, "userID")); err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
