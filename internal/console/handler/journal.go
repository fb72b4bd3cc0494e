package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/pixel-gateway/internal/console/service"
)

type JournalHandler struct {
	service *service.JournalService
}

func NewJournalHandler(s *service.JournalService) *JournalHandler {
	return &JournalHandler{service: s}
}

// List отдает последние записи журнала доставки.
// Фильтры: ?visitor_id=... и ?limit=... (по умолчанию 100).
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	visitorID := r.URL.Query().Get("visitor_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.Recent(r.Context(), visitorID, limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
