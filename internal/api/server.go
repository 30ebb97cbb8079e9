package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/interview-engine/internal/ai"
	"github.com/terra-clan/interview-engine/internal/config"
	"github.com/terra-clan/interview-engine/internal/interview"
	"github.com/terra-clan/interview-engine/internal/metrics"
	"github.com/terra-clan/interview-engine/internal/models"
	"github.com/terra-clan/interview-engine/internal/services"
	"github.com/terra-clan/interview-engine/internal/storage"
)

const requestTimeout = 60 * time.Second

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	repo           storage.Repository
	interviews     *interview.Manager
	analyzer       ai.ResumeAnalyzer
	registry       *services.Registry
	metrics        *metrics.Metrics
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server. registry and m may be nil.
func NewServer(
	cfg config.ServerConfig,
	repo storage.Repository,
	manager *interview.Manager,
	analyzer ai.ResumeAnalyzer,
	registry *services.Registry,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		config:         cfg,
		repo:           repo,
		interviews:     manager,
		analyzer:       analyzer,
		registry:       registry,
		metrics:        m,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		perm := s.authMiddleware.RequirePermission

		// The voice session outlives any request timeout
		r.With(perm(models.PermInterviewsWrite)).Get("/interviews/ws", s.handleInterviewWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			// Profiles
			r.Route("/profiles", func(r chi.Router) {
				r.With(perm(models.PermProfilesRead)).Get("/", s.handleListProfiles)
				r.With(perm(models.PermProfilesWrite)).Post("/", s.handleCreateProfile)
				r.With(perm(models.PermProfilesWrite)).Post("/analyze", s.handleAnalyzeProfile)

				r.Route("/{id}", func(r chi.Router) {
					r.With(perm(models.PermProfilesRead)).Get("/", s.handleGetProfile)
					r.With(perm(models.PermProfilesWrite)).Delete("/", s.handleDeleteProfile)
				})
			})

			// Interviews
			r.With(perm(models.PermInterviewsRead)).Get("/interviews", s.handleListInterviews)
			r.With(perm(models.PermInterviewsWrite)).Post("/interviews", s.handleStartInterview)
			r.With(perm(models.PermInterviewsRead)).Get("/interviews/live", s.handleListLive)
			r.With(perm(models.PermInterviewsRead)).Get("/interviews/stats", s.handleInterviewStats)
			r.With(perm(models.PermInterviewsRead)).Get("/interviews/{id}", s.handleGetInterview)
			r.With(perm(models.PermInterviewsWrite)).Delete("/interviews/{id}", s.handleDeleteInterview)
			r.With(perm(models.PermInterviewsWrite)).Post("/interviews/{id}/answers", s.handleSubmitAnswer)
			r.With(perm(models.PermInterviewsWrite)).Post("/interviews/{id}/listening/start", s.handleStartListening)
			r.With(perm(models.PermInterviewsWrite)).Post("/interviews/{id}/listening/stop", s.handleStopListening)
			r.With(perm(models.PermInterviewsWrite)).Post("/interviews/{id}/end", s.handleEndInterview)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
