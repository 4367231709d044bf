// Package server provides the HTTP API for tabwise.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/config"
	"github.com/hyperjump/tabwise/internal/engine"
	"github.com/hyperjump/tabwise/internal/reconcile"
	"github.com/hyperjump/tabwise/internal/storage"
	"github.com/hyperjump/tabwise/pkg/utils"
)

// Reconciler runs one reconciliation cycle on demand.
type Reconciler interface {
	RunCycle(ctx context.Context) (*reconcile.CycleReport, error)
}

// Sweeper removes expired observations.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

// Server is the HTTP server for the tabwise API.
type Server struct {
	engine     *engine.Engine
	reconciler Reconciler
	sweeper    Sweeper
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithReconciler enables POST /api/v1/reconcile.
func WithReconciler(r Reconciler) Option {
	return func(s *Server) { s.reconciler = r }
}

// WithSweeper routes POST /api/v1/sweep through sw instead of the engine.
func WithSweeper(sw Sweeper) Option {
	return func(s *Server) { s.sweeper = sw }
}

// NewServer creates a server with the given dependencies.
func NewServer(eng *engine.Engine, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		sweeper: eng,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Post("/observations", s.handleSaveObservation)
		r.Get("/observations/{id}", s.handleGetObservation)
		r.Post("/observations/{id}/project", s.handleAssignProject)

		r.Post("/search", s.handleSearch)
		r.Post("/route", s.handleRoute)
		r.Post("/merge-suggestion", s.handleMergeSuggestion)
		r.Post("/sweep", s.handleSweep)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}/research", s.handleProjectResearch)
		r.Get("/projects/{id}/context", s.handleChatContext)
		r.Get("/projects/{id}/export", s.handleExport)

		r.Get("/consistency", s.handleConsistency)
		r.Post("/consistency/repair", s.handleRepair)
		r.Post("/reconcile", s.handleReconcile)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger tags each request with an id and logs it when it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// statusFor maps engine and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrIDCollision),
		errors.Is(err, storage.ErrDuplicateURL),
		errors.Is(err, storage.ErrDuplicateProjectName):
		return http.StatusConflict
	case errors.Is(err, engine.ErrKeywordDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
