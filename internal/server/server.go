// Package server provides the HTTP server and routing for sentiq.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/config"
	"github.com/sentiq/sentiq/internal/credits"
	"github.com/sentiq/sentiq/internal/database"
	"github.com/sentiq/sentiq/internal/events"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/research"
)

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Config       *config.Config
	CreditsDB    *database.DB
	ResearchDB   *database.DB
	Service      *research.Service
	Ledger       *credits.Ledger
	Orchestrator *fetch.Orchestrator
	EventBus     *events.Bus
	Port         int
	DevMode      bool
}

// Server represents the HTTP server
type Server struct {
	router       *chi.Mux
	server       *http.Server
	log          zerolog.Logger
	cfg          *config.Config
	creditsDB    *database.DB
	researchDB   *database.DB
	service      *research.Service
	ledger       *credits.Ledger
	orchestrator *fetch.Orchestrator
	eventBus     *events.Bus
	startedAt    time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		log:          cfg.Log.With().Str("component", "server").Logger(),
		cfg:          cfg.Config,
		creditsDB:    cfg.CreditsDB,
		researchDB:   cfg.ResearchDB,
		service:      cfg.Service,
		ledger:       cfg.Ledger,
		orchestrator: cfg.Orchestrator,
		eventBus:     cfg.EventBus,
		startedAt:    time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event streams must not run under the timeout middleware, so they
		// are registered first on their own subrouter.
		eventsHandler := NewEventsStreamHandler(s.eventBus, s.log)
		r.Get("/events/stream", eventsHandler.ServeHTTP)

		wsHandler := NewWSStreamHandler(s.eventBus, s.log)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/research/data", s.handleResearchData)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/{userID}", s.handleCreditsBalance)
				r.Get("/{userID}/transactions", s.handleCreditsTransactions)
				r.Post("/{userID}/grant", s.handleCreditsGrant)
			})

			r.Route("/cache", func(r chi.Router) {
				r.Get("/stats", s.handleCacheStats)
				r.Get("/keys", s.handleCacheKeys)
				r.Post("/clear", s.handleCacheClear)
			})

			r.Get("/ratelimit/{resource}", s.handleRateLimitInfo)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.handleSystemStatus)
				r.Get("/database/stats", s.handleDatabaseStats)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
