package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/console/handler"
	"github.com/xela07ax/pixel-gateway/internal/infra"
	"github.com/xela07ax/pixel-gateway/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов оператора (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler    // /auth/token
	controlHandler *handler.ControlHandler // Гео-рубильник, сброс согласия
	journalHandler *handler.JournalHandler // Журнал доставки
}

// NewConsoleServer инициализирует сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	controlH *handler.ControlHandler,
	journalH *handler.JournalHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  validator,
		authHandler:    authH,
		controlHandler: controlH,
		journalHandler: journalH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Рубильник точной геолокации
		r.Route("/v1/geo", func(r chi.Router) {
			r.Get("/", s.controlHandler.GeoStatus)
			r.Post("/disable", s.controlHandler.DisableGeo)
			r.Post("/enable", s.controlHandler.EnableGeo)
		})

		// Право на забвение: сброс согласия посетителя
		r.Post("/v1/consent/{visitorID}/reset", s.controlHandler.ResetConsent)

		// Журнал доставки (Observability)
		r.Get("/v1/journal", s.journalHandler.List)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
