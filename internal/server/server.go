package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/consent"
	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/tracker"
)

// CollectorServer — входной HTTP-тракт пайплайна: прием хитов и решений
// по согласию от сайтов.
type CollectorServer struct {
	router  *chi.Mux
	logger  *zap.Logger
	tracker *tracker.Tracker
	consent *consent.Manager
}

func NewCollectorServer(tr *tracker.Tracker, cm *consent.Manager, logger *zap.Logger) *CollectorServer {
	s := &CollectorServer{
		router:  chi.NewRouter(),
		logger:  logger.Named("collector-api"),
		tracker: tr,
		consent: cm,
	}

	s.routes()
	return s
}

func (s *CollectorServer) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Post("/v1/track", s.handleTrack)
	r.Post("/v1/consent", s.handleConsent)
	r.Get("/v1/consent/{visitorID}", s.handleConsentStatus)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type trackRequest struct {
	VisitorID string        `json:"visitor_id"`
	Name      string        `json:"name"`
	Params    domain.Params `json:"params"`
	Referrer  string        `json:"referrer"`
}

func (s *CollectorServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.VisitorID == "" || req.Name == "" {
		http.Error(w, "visitor_id and name are required", http.StatusBadRequest)
		return
	}

	err := s.tracker.TrackEvent(r.Context(), tracker.Request{
		VisitorID: req.VisitorID,
		TraceID:   TraceIDFromContext(r.Context()),
		Name:      req.Name,
		Params:    req.Params,
		Referrer:  req.Referrer,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.logger.Error("track failed", zap.Error(err), zap.String("event", req.Name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Тракт асинхронный: 202 означает "принято", а не "доставлено"
	w.WriteHeader(http.StatusAccepted)
}

type consentRequest struct {
	VisitorID  string                          `json:"visitor_id"`
	Status     string                          `json:"status"` // "granted" / "denied"
	Categories map[string]domain.ConsentStatus `json:"categories,omitempty"`
}

func (s *CollectorServer) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.VisitorID == "" {
		http.Error(w, "visitor_id is required", http.StatusBadRequest)
		return
	}

	var status domain.ConsentStatus
	switch strings.ToLower(req.Status) {
	case "granted":
		status = domain.ConsentGranted
	case "denied":
		status = domain.ConsentDenied
	default:
		http.Error(w, "status must be granted or denied", http.StatusBadRequest)
		return
	}

	if err := s.consent.Apply(r.Context(), req.VisitorID, status, req.Categories); err != nil {
		s.logger.Error("consent apply failed", zap.Error(err),
			zap.String("visitor_id", req.VisitorID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *CollectorServer) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	visitorID := chi.URLParam(r, "visitorID")

	decision, rec, err := s.consent.Decision(r.Context(), visitorID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"decision": decision}
	if decision != domain.DecisionUnknown {
		resp["categories"] = rec.Categories
		resp["timestamp"] = rec.Timestamp
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// clientIP достает адрес посетителя; RealIP уже разобрал X-Forwarded-For
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP позволяет использовать CollectorServer как стандартный http.Handler
func (s *CollectorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
