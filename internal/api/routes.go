package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodalcore/poolsupervisor/internal/api/handlers"
	apiMiddleware "github.com/nodalcore/poolsupervisor/internal/api/middleware"
	"github.com/nodalcore/poolsupervisor/internal/api/websocket"
	"github.com/nodalcore/poolsupervisor/internal/config"
	"github.com/nodalcore/poolsupervisor/internal/events"
	"github.com/nodalcore/poolsupervisor/internal/supervisor"
)

// Server is the pool's HTTP surface: unauthenticated task submission plus
// an authenticated admin surface for worker/pool control, DLQ triage, the
// live event stream, and Prometheus scraping.
type Server struct {
	router       *chi.Mux
	sup          *supervisor.Supervisor
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
}

// NewServer creates a new HTTP server fronting sup, fed events from hub.
func NewServer(cfg *config.Config, sup *supervisor.Supervisor, hub *events.Hub) *Server {
	wsHub := websocket.NewHub(hub)

	s := &Server{
		router:       chi.NewRouter(),
		sup:          sup,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(sup),
		adminHandler: handlers.NewAdminHandler(sup),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	// API v1: task submission. No auth — submitter authentication is a
	// spec non-goal — but still rate limited.
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		if s.config.RateLimit.RPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.RateLimit.RPS))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
		})
		r.Get("/pool/metrics", s.taskHandler.PoolMetrics)
	})

	// Admin: worker/pool control, DLQ triage. Protected when auth is
	// enabled.
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		if s.config.Auth.Enabled {
			r.Use(apiMiddleware.Auth(&apiMiddleware.AuthConfig{
				Enabled:   s.config.Auth.Enabled,
				JWTSecret: s.config.Auth.JWTSecret,
				APIKeys:   apiKeySet(s.config.Auth.APIKeys),
			}))
		}

		r.Get("/health", s.adminHandler.HealthCheck)

		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)

		r.Post("/pool/scale-up", s.adminHandler.ScaleUp)
		r.Post("/pool/scale-down", s.adminHandler.ScaleDown)
		r.Post("/pool/shutdown", s.adminHandler.Shutdown)

		r.Post("/tasks/{taskID}/retry", s.adminHandler.RetryTask)

		r.Get("/dlq", s.adminHandler.ListDLQ)
		r.Get("/dlq/{taskID}", s.adminHandler.GetDLQEntry)
		r.Post("/dlq/retry", s.adminHandler.RetryDLQ)
		r.Delete("/dlq", s.adminHandler.ClearDLQ)
	})

	// Live event stream.
	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

func apiKeySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Start starts the WebSocket hub's event-fan-out loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
