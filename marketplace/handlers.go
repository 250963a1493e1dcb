package marketplace

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/safe"
	"github.com/gvirila/portal/shield"
)

// Handler serves the marketplace API.
type Handler struct {
	svc *Service
}

// NewHandler returns the marketplace HTTP handlers.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the public API under /api/prompts.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{promptID}", h.get)
	r.Post("/{promptID}/purchase", h.purchase)
	r.Get("/{promptID}/purchase", h.access)
}

// AdminRoutes mounts prompt and order management. Callers wrap it with
// auth.RequireAdmin.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/prompts", h.adminListPrompts)
	r.Post("/prompts", h.createPrompt)
	r.Put("/prompts/{promptID}", h.updatePrompt)
	r.Delete("/prompts/{promptID}", h.deletePrompt)
	r.Get("/purchases", h.listPurchases)
	r.Post("/purchases/{purchaseID}/complete", h.completePurchase)
	r.Post("/purchases/{purchaseID}/cancel", h.cancelPurchase)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.svc.prompts.List(r.Context(), PromptPublished)
	if err != nil {
		internalError(w, r, "marketplace: list", err)
		return
	}
	out := make([]*Prompt, len(prompts))
	for i, p := range prompts {
		out[i] = p.Public()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.prompts.GetPublished(r.Context(), chi.URLParam(r, "promptID"))
	if errors.Is(err, ErrPromptNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", "პრომპტი ვერ მოიძებნა")
		return
	}
	if err != nil {
		internalError(w, r, "marketplace: get", err)
		return
	}
	writeJSON(w, http.StatusOK, p.Public())
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16*1024)
	var buyer Buyer
	if err := json.NewDecoder(r.Body).Decode(&buyer); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "არასწორი მოთხოვნა")
		return
	}
	res, err := h.svc.Purchase(r.Context(), chi.URLParam(r, "promptID"), buyer)
	switch {
	case errors.Is(err, safe.ErrInvalidEmail):
		shield.WriteError(w, http.StatusBadRequest, "invalid_email", "მიუთითეთ სწორი ელფოსტა")
	case errors.Is(err, ErrPromptNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", "პრომპტი ვერ მოიძებნა")
	case errors.Is(err, ErrDuplicate):
		shield.WriteError(w, http.StatusConflict, "already_purchased", "ეს პრომპტი ამ ელფოსტით უკვე შეძენილია")
	case err != nil:
		internalError(w, r, "marketplace: purchase", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CheckAccess(r.Context(), chi.URLParam(r, "promptID"), r.URL.Query().Get("access"))
	switch {
	case errors.Is(err, ErrMissingToken):
		shield.WriteError(w, http.StatusBadRequest, "token_required", "წვდომის კოდი არ არის მითითებული")
	case errors.Is(err, ErrPromptNotFound), errors.Is(err, ErrPurchaseNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", "შეძენა ვერ მოიძებნა")
	case errors.Is(err, ErrForbidden):
		shield.WriteError(w, http.StatusForbidden, "forbidden", "ეს კოდი ამ პრომპტზე წვდომას არ იძლევა")
	case err != nil:
		internalError(w, r, "marketplace: access", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) adminListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.svc.prompts.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (h *Handler) createPrompt(w http.ResponseWriter, r *http.Request) {
	var p Prompt
	if err := decodePrompt(r, &p); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.ID, p.CreatedAt, p.Downloads = "", 0, 0
	if err := h.svc.prompts.Insert(r.Context(), &p); err != nil {
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *Handler) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var p Prompt
	if err := decodePrompt(r, &p); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.ID = chi.URLParam(r, "promptID")
	err := h.svc.prompts.Update(r.Context(), &p)
	switch {
	case errors.Is(err, ErrPromptNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeJSON(w, http.StatusOK, &p)
	}
}

func (h *Handler) deletePrompt(w http.ResponseWriter, r *http.Request) {
	err := h.svc.prompts.Delete(r.Context(), chi.URLParam(r, "promptID"))
	if errors.Is(err, ErrPromptNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.ListPurchases(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) completePurchase(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w, r, h.svc.CompletePurchase(r.Context(), chi.URLParam(r, "purchaseID")), StatusCompleted)
}

func (h *Handler) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w, r, h.svc.CancelPurchase(r.Context(), chi.URLParam(r, "purchaseID")), StatusCancelled)
}

func (h *Handler) writeTransition(w http.ResponseWriter, r *http.Request, err error, status string) {
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrNotPending):
		shield.WriteError(w, http.StatusConflict, "not_pending", err.Error())
	case err != nil:
		internalError(w, r, "marketplace: transition", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

var errPromptFields = errors.New("slug and title are required; price must not be negative; status must be draft or published")

func decodePrompt(r *http.Request, p *Prompt) error {
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		return err
	}
	p.Slug = strings.TrimSpace(p.Slug)
	p.Title = strings.TrimSpace(p.Title)
	if p.Slug == "" || p.Title == "" || p.Price < 0 {
		return errPromptFields
	}
	switch p.Status {
	case "":
		p.Status = PromptDraft
	case PromptDraft, PromptPublished:
	default:
		return errPromptFields
	}
	return nil
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
