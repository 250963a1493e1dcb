package blog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/shield"
)

// Handler serves the blog API.
type Handler struct {
	store    *Store
	render   *Renderer
	importer *Importer
}

// NewHandler returns the blog handlers. importer may be nil, in which case
// the admin import endpoint answers 503.
func NewHandler(store *Store, importer *Importer) *Handler {
	return &Handler{store: store, render: NewRenderer(), importer: importer}
}

// Routes mounts the public API under /api/posts.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{slug}", h.get)
}

// AdminRoutes mounts post management. Callers wrap it with
// auth.RequireAdmin.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/", h.adminList)
	r.Post("/", h.create)
	r.Post("/import", h.importFeed)
	r.Get("/{postID}", h.adminGet)
	r.Put("/{postID}", h.update)
	r.Post("/{postID}/publish", h.publish)
	r.Delete("/{postID}", h.delete)
}

type listResponse struct {
	Posts []*Post `json:"posts"`
	Total int     `json:"total"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opt := listOptions(r)
	opt.Status = StatusPublished
	h.writeList(w, r, opt)
}

func (h *Handler) adminList(w http.ResponseWriter, r *http.Request) {
	opt := listOptions(r)
	opt.Status = r.URL.Query().Get("status")
	h.writeList(w, r, opt)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, opt ListOptions) {
	posts, total, err := h.store.List(r.Context(), opt)
	if err != nil {
		internalError(w, r, "blog: list", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Posts: posts, Total: total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.View(r.Context(), chi.URLParam(r, "slug"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", "პოსტი ვერ მოიძებნა")
		return
	}
	if err != nil {
		internalError(w, r, "blog: view", err)
		return
	}
	v, err := h.render.View(p)
	if err != nil {
		internalError(w, r, "blog: render", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) adminGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.Get(r.Context(), chi.URLParam(r, "postID"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "blog: get", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var p Post
	if err := decodePost(w, r, &p); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.ID, p.Views, p.CreatedAt, p.PublishedAt = "", 0, 0, nil
	if err := h.store.Insert(r.Context(), &p); err != nil {
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var p Post
	if err := decodePost(w, r, &p); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.ID = chi.URLParam(r, "postID")
	err := h.store.Update(r.Context(), &p)
	switch {
	case errors.Is(err, ErrNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeJSON(w, http.StatusOK, &p)
	}
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	err := h.store.Publish(r.Context(), chi.URLParam(r, "postID"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "blog: publish", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusPublished})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), chi.URLParam(r, "postID"))
	if errors.Is(err, ErrNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		internalError(w, r, "blog: delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) importFeed(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		shield.WriteError(w, http.StatusServiceUnavailable, "import_disabled", "feed import is not configured")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil || body.URL == "" {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}
	res, err := h.importer.Import(r.Context(), body.URL)
	if err != nil {
		shield.WriteError(w, http.StatusBadGateway, "import_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var errPostFields = errors.New("title is required; status must be draft or published")

func decodePost(w http.ResponseWriter, r *http.Request, p *Post) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(p); err != nil {
		return err
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Slug = strings.TrimSpace(p.Slug)
	if p.Title == "" {
		return errPostFields
	}
	switch p.Status {
	case "":
		p.Status = StatusDraft
	case StatusDraft, StatusPublished:
	default:
		return errPostFields
	}
	if p.Excerpt == "" {
		p.Excerpt = Excerpt(p.Body, excerptLen)
	}
	return nil
}

func listOptions(r *http.Request) ListOptions {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return ListOptions{Tag: strings.ToLower(strings.TrimSpace(q.Get("tag"))), Limit: limit, Offset: offset}
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
