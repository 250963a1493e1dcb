package comments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/safe"
	"github.com/gvirila/portal/shield"
)

// maxBody caps a submission request.
const maxBody = 32 * 1024

// Routes mounts the public API:
//
//	POST /                          submit
//	GET  /{targetType}/{targetID}   approved comments of a target
func (s *Store) Routes(r chi.Router) {
	r.Post("/", s.handleSubmit)
	r.Get("/{targetType}/{targetID}", s.handleList)
}

// AdminRoutes mounts the moderation API. Callers wrap it with
// auth.RequireAdmin.
func (s *Store) AdminRoutes(r chi.Router) {
	r.Get("/", s.handleQueue)
	r.Post("/{commentID}/approve", s.handleModerate(StatusApproved))
	r.Post("/{commentID}/reject", s.handleModerate(StatusRejected))
	r.Post("/{commentID}/spam", s.handleModerate(StatusSpam))
	r.Delete("/{commentID}", s.handleDelete)
}

func (s *Store) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	var req struct {
		TargetType  string `json:"target_type"`
		TargetID    string `json:"target_id"`
		AuthorName  string `json:"author_name"`
		AuthorEmail string `json:"author_email"`
		Text        string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "არასწორი მოთხოვნა")
		return
	}

	c, err := s.Submit(r.Context(), Submission{
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
		Text:        req.Text,
		IP:          shield.ExtractIP(r),
		UserAgent:   r.UserAgent(),
	})
	switch {
	case errors.Is(err, ErrEmptyText):
		shield.WriteError(w, http.StatusBadRequest, "text_required", "კომენტარის ტექსტი სავალდებულოა")
	case errors.Is(err, ErrInvalidTarget):
		shield.WriteError(w, http.StatusBadRequest, "invalid_target", "არასწორი ობიექტი")
	case errors.Is(err, safe.ErrInvalidEmail):
		shield.WriteError(w, http.StatusBadRequest, "invalid_email", "არასწორი ელფოსტა")
	case err != nil:
		shield.GetLogger(r.Context()).Error("comments: submit", "error", err)
		shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{
			"id":      c.ID,
			"status":  c.Status,
			"message": "კომენტარი გამოქვეყნდება მოდერაციის შემდეგ",
		})
	}
}

func (s *Store) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	list, err := s.ListApproved(r.Context(), chi.URLParam(r, "targetType"), chi.URLParam(r, "targetID"), limit, offset)
	if err != nil {
		shield.GetLogger(r.Context()).Error("comments: list", "error", err)
		shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Store) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	list, err := s.Queue(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if errors.Is(err, ErrInvalidStatus) {
		shield.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Store) handleModerate(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Moderate(r.Context(), chi.URLParam(r, "commentID"), status)
		if errors.Is(err, ErrNotFound) {
			shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if err != nil {
			shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

func (s *Store) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Delete(r.Context(), chi.URLParam(r, "commentID"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
