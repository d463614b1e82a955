// Package server provides the HTTP server and routing for cryptofolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/cryptofolio/internal/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds every non-streaming API request
const DefaultRequestTimeout = 60 * time.Second

// RouteRegistrar is implemented by module handlers that mount request/response routes
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// StreamRegistrar is implemented by module handlers that mount long-lived routes
type StreamRegistrar interface {
	RegisterStreamRoutes(r chi.Router)
}

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	RequestTimeout time.Duration
	Bus            *events.Bus
	System         *SystemHandlers
	Routes         []RouteRegistrar
	Streams        []StreamRegistrar
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	system  *SystemHandlers
	events  *EventsStreamHandler
	timeout time.Duration
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		system:  cfg.System,
		timeout: timeout,
	}
	if cfg.Bus != nil {
		s.events = NewEventsStreamHandler(cfg.Bus, cfg.Log)
	}

	s.setupMiddleware()
	s.setupRoutes()

	// No WriteTimeout: websocket and SSE connections stay open indefinitely.
	// Request/response routes are bounded by middleware.Timeout instead.
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Streaming routes: no timeout, no compression
		r.Group(func(r chi.Router) {
			for _, stream := range s.cfg.Streams {
				stream.RegisterStreamRoutes(r)
			}
			if s.events != nil {
				r.Get("/events/stream", s.events.ServeHTTP)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			for _, module := range s.cfg.Routes {
				module.RegisterRoutes(r)
			}
			if s.system != nil {
				s.system.RegisterRoutes(r)
			}
		})
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
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
