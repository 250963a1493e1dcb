package demochat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/auth"
	"github.com/gvirila/portal/llm"
	"github.com/gvirila/portal/shield"
)

// maxBody caps a chat request: one message plus the client-held history.
const maxBody = 256 * 1024

// Handler serves the bot catalogue and the chat endpoints.
type Handler struct {
	svc  *Service
	bots *Bots
}

// NewHandler returns the demochat HTTP handlers.
func NewHandler(svc *Service, bots *Bots) *Handler {
	return &Handler{svc: svc, bots: bots}
}

// Routes mounts the public API under /api/bots. The full chat route
// requires auth.Middleware upstream.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{botID}", h.get)
	r.Post("/{botID}/demo", h.demo)
	r.With(auth.RequireAuth).Post("/{botID}/chat", h.chat)
}

// AdminRoutes mounts bot management. Callers wrap it with
// auth.RequireAdmin.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/", h.adminList)
	r.Post("/", h.create)
	r.Put("/{botID}", h.update)
	r.Delete("/{botID}", h.remove)
}

type chatBody struct {
	Message             string        `json:"message"`
	ConversationHistory []llm.Message `json:"conversationHistory"`
}

func (h *Handler) demo(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, h.svc.Demo)
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	h.serveChat(w, r, h.svc.Chat)
}

func (h *Handler) serveChat(w http.ResponseWriter, r *http.Request, turn func(context.Context, ChatRequest) (*ChatResponse, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "არასწორი მოთხოვნა")
		return
	}
	resp, err := turn(r.Context(), ChatRequest{
		BotID:    chi.URLParam(r, "botID"),
		ClientIP: shield.ExtractIP(r),
		Message:  body.Message,
		History:  body.ConversationHistory,
	})
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeChatError maps service errors to HTTP statuses with Georgian
// messages.
func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		rl.Decision.SetHeaders(w)
		shield.WriteError(w, http.StatusTooManyRequests, "rate_limited",
			"ძალიან ბევრი მოთხოვნა. სცადეთ მოგვიანებით.")
	case errors.Is(err, ErrInvalidRequest):
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "შეტყობინება ცარიელია ან ზედმეტად გრძელია")
	case errors.Is(err, ErrBotNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", "ბოტი ვერ მოიძებნა")
	case errors.Is(err, ErrDemoDisabled):
		shield.WriteError(w, http.StatusForbidden, "demo_unavailable", "ამ ბოტის დემო მიუწვდომელია")
	case errors.Is(err, ErrDemoLimitReached):
		shield.WriteError(w, http.StatusTooManyRequests, "demo_limit_reached",
			"დემო შეტყობინებების ლიმიტი ამოიწურა. სრული ვერსიისთვის შეიძინეთ ბოტი.")
	default:
		shield.GetLogger(r.Context()).Error("demochat: chat", "error", err)
		shield.WriteError(w, http.StatusInternalServerError, "internal", "დროებითი შეცდომა, სცადეთ მოგვიანებით")
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.List(r.Context(), BotActive)
	if err != nil {
		shield.GetLogger(r.Context()).Error("demochat: list bots", "error", err)
		shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
		return
	}
	out := make([]*Bot, len(bots))
	for i, b := range bots {
		out[i] = b.Public()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.bots.Get(r.Context(), chi.URLParam(r, "botID"))
	if errors.Is(err, ErrBotNotFound) || (err == nil && b.Status != BotActive) {
		shield.WriteError(w, http.StatusNotFound, "not_found", "ბოტი ვერ მოიძებნა")
		return
	}
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", "შიდა შეცდომა")
		return
	}
	writeJSON(w, http.StatusOK, b.Public())
}

func (h *Handler) adminList(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var b Bot
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := checkBot(&b); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.ID, b.CreatedAt = "", 0
	if err := h.bots.Insert(r.Context(), &b); err != nil {
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &b)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var b Bot
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := checkBot(&b); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.ID = chi.URLParam(r, "botID")
	err := h.bots.Update(r.Context(), &b)
	switch {
	case errors.Is(err, ErrBotNotFound):
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		shield.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeJSON(w, http.StatusOK, &b)
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	err := h.bots.Delete(r.Context(), chi.URLParam(r, "botID"))
	if errors.Is(err, ErrBotNotFound) {
		shield.WriteError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		shield.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

var errBotFields = errors.New("name and slug are required; status must be active, draft or archived")

func checkBot(b *Bot) error {
	b.Name = strings.TrimSpace(b.Name)
	b.Slug = strings.TrimSpace(b.Slug)
	if b.Name == "" || b.Slug == "" {
		return errBotFields
	}
	switch b.Status {
	case "":
		b.Status = BotDraft
	case BotActive, BotDraft, BotArchived:
	default:
		return errBotFields
	}
	if b.Price < 0 {
		b.Price = 0
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
