package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/pixel-gateway/internal/console/service"
)

type ControlHandler struct {
	service *service.ControlService
}

func NewControlHandler(s *service.ControlService) *ControlHandler {
	return &ControlHandler{service: s}
}

func (h *ControlHandler) GeoStatus(w http.ResponseWriter, r *http.Request) {
	disabled, err := h.service.GeoDisabled(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"precise_geo_disabled": disabled})
}

func (h *ControlHandler) DisableGeo(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisableGeo(r.Context()); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) EnableGeo(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EnableGeo(r.Context()); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) ResetConsent(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")
	if visitorID == "" {
		http.Error(w, "visitor id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.ResetConsent(r.Context(), visitorID); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
