package encyclopedia

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/content"
	"github.com/gvirila/portal/shield"
)

// ArticleView is an article with its body split into display sections.
type ArticleView struct {
	*Article
	Sections []content.Section `json:"sections"`
}

// Routes mounts the public API under /api/encyclopedia.
func (s *Store) Routes(r chi.Router) {
	r.Get("/", s.handleList)
	r.Get("/categories", s.handleCategories)
	r.Get("/search", s.handleSearch)
	r.Get("/{slug}", s.handleRead)
	r.Get("/{slug}/tutorial", s.handleTutorial)
}

// AdminRoutes mounts article management. Callers wrap it with
// auth.RequireAdmin.
func (s *Store) AdminRoutes(r chi.Router) {
	r.Put("/{slug}", s.handleUpsert)
	r.Delete("/{slug}", s.handleDelete)
}

func (s *Store) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	list, err := s.List(r.Context(), q.Get("category"), limit, offset)
	if err != nil {
		internalError(w, r, "encyclopedia: list", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Store) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Categories(r.Context())
	if err != nil {
		internalError(w, r, "encyclopedia: categories", err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Store) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := s.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if errors.Is(err, ErrEmptyQuery) {
		shield.WriteError(w, http.StatusBadRequest, "query_required", "საძიებო სიტყვა არ არის მითითებული")
		return
	}
	if err != nil {
		internalError(w, r, "encyclopedia: search", err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Store) handleRead(w http.ResponseWriter, r *http.Request) {
	a, err := s.Read(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", "სტატია ვერ მოიძებნა")
		return
	}
	if err != nil {
		internalError(w, r, "encyclopedia: read", err)
		return
	}
	writeJSON(w, http.StatusOK, ArticleView{Article: a, Sections: content.Parse(a.Body)})
}

func (s *Store) handleTutorial(w http.ResponseWriter, r *http.Request) {
	res, err := s.Tutorial(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", "სტატია ვერ მოიძებნა")
		return
	}
	if err != nil {
		internalError(w, r, "encyclopedia: tutorial", err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Store) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var a Article
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&a); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	a.Slug = chi.URLParam(r, "slug")
	err := s.Upsert(r.Context(), &a)
	switch {
	case errors.Is(err, ErrInvalidArticle), errors.Is(err, ErrInvalidDifficulty):
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case err != nil:
		internalError(w, r, "encyclopedia: upsert", err)
	default:
		writeJSON(w, http.StatusOK, &a)
	}
}

func (s *Store) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Delete(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "encyclopedia: delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	shield.GetLogger(r.Context()).Error(msg, "error", err)
	shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
