package mystic

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/shield"
)

// Routes mounts the readings under /api/mystic.
func (s *Service) Routes(r chi.Router) {
	r.Get("/signs", s.handleSigns)
	r.Get("/deck", s.handleDeck)
	r.Get("/horoscope/{sign}", s.handleHoroscope)
	r.Post("/tarot", s.handleTarot)
	r.Post("/fortune", s.handleFortune)
}

type questionBody struct {
	Question string `json:"question"`
	Cards    int    `json:"cards"`
}

func (s *Service) handleSigns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Signs)
}

func (s *Service) handleDeck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MajorArcana)
}

func (s *Service) handleHoroscope(w http.ResponseWriter, r *http.Request) {
	res, err := s.Horoscope(r.Context(), shield.ExtractIP(r), chi.URLParam(r, "sign"))
	writeReading(w, r, res, err)
}

func (s *Service) handleTarot(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if !decode(w, r, &body) {
		return
	}
	res, err := s.Tarot(r.Context(), shield.ExtractIP(r), body.Question, body.Cards)
	writeReading(w, r, res, err)
}

func (s *Service) handleFortune(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if !decode(w, r, &body) {
		return
	}
	res, err := s.Fortune(r.Context(), shield.ExtractIP(r), body.Question)
	writeReading(w, r, res, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(v); err != nil {
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", "არასწორი მოთხოვნა")
		return false
	}
	return true
}

func writeReading(w http.ResponseWriter, r *http.Request, res *Reading, err error) {
	var rl *RateLimitError
	switch {
	case errors.As(err, &rl):
		rl.Decision.SetHeaders(w)
		shield.WriteError(w, http.StatusTooManyRequests, "rate_limited", "ძალიან ბევრი მოთხოვნა. სცადეთ მოგვიანებით.")
	case errors.Is(err, ErrInvalidRequest):
		shield.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ErrUnknownSign):
		shield.WriteError(w, http.StatusNotFound, "unknown_sign", "ზოდიაქოს ნიშანი ვერ მოიძებნა")
	case err != nil:
		shield.GetLogger(r.Context()).Error("mystic: reading", "error", err)
		shield.WriteError(w, http.StatusBadGateway, "upstream", "ვარსკვლავები ახლა დუმან, სცადეთ მოგვიანებით")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
