package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/geotoken-cache/internal/core/model"
	"github.com/mohammed-shakir/geotoken-cache/internal/engine"
)

type handlers struct {
	log *slog.Logger
	eng *engine.Engine
}

type viewportRequest struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
	Zoom   float64 `json:"zoom"`
}

type viewportResponse struct {
	Decision string         `json:"decision"`
	Source   string         `json:"source,omitempty"`
	Tokens   []*model.Token `json:"tokens"`
}

func (h *handlers) viewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vp := model.Viewport{
		MinLat: req.MinLat, MinLng: req.MinLng,
		MaxLat: req.MaxLat, MaxLng: req.MaxLng,
		Zoom: req.Zoom,
	}

	res, err := h.eng.FetchForViewport(r.Context(), vp)
	if err != nil {
		if errors.Is(err, model.ErrAborted) {
			// A newer viewport superseded this request mid-flight.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if errors.Is(err, model.ErrTransientFetch) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, viewportResponse{
		Decision: res.Decision.String(),
		Source:   res.Source,
		Tokens:   res.Tokens,
	})
}

func (h *handlers) visible(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"tokens": h.eng.GetVisible()})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	cold, err := h.eng.ColdStats(r.Context())
	if err != nil {
		h.log.Warn("cold stats unavailable", "err", err)
	}
	writeJSON(w, map[string]any{
		"hot":  h.eng.Stats(),
		"cold": cold,
	})
}

type mintRequest struct {
	LatE7       int64  `json:"lat_e7"`
	LngE7       int64  `json:"lng_e7"`
	ElevationCm int32  `json:"elevation_cm"`
	Message     string `json:"message"`
	Color       string `json:"color"`
}

func (h *handlers) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := &model.Token{
		ID:          uuid.NewString(),
		LatE7:       req.LatE7,
		LngE7:       req.LngE7,
		ElevationCm: req.ElevationCm,
		Message:     req.Message,
		Color:       parseColor(req.Color),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.eng.InsertLocal(t, false); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(t)
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.eng.ConfirmPersisted(id) {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseColor(s string) model.Color {
	switch s {
	case "red":
		return model.ColorRed
	case "green":
		return model.ColorGreen
	case "blue":
		return model.ColorBlue
	case "gold":
		return model.ColorGold
	default:
		return model.ColorNone
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
