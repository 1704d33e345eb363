// Package web provides the HTTP surface of the ingestion service: accept
// an upload, list uploads, and poll one upload's status. The handlers are
// a thin request/response layer; all row processing happens in the
// background workers.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/merchstream/catalogd/internal/blob"
	"github.com/merchstream/catalogd/internal/config"
	"github.com/merchstream/catalogd/internal/queue"
	"github.com/merchstream/catalogd/internal/upload"
	"github.com/merchstream/catalogd/internal/web/middleware"
)

// Server is the HTTP server for the upload API.
type Server struct {
	uploads upload.Store
	blobs   blob.Store
	queue   *queue.Queue
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires the handlers to their collaborators.
func NewServer(uploads upload.Store, blobs blob.Store, q *queue.Queue, cfg *config.Config) *Server {
	s := &Server{
		uploads: uploads,
		blobs:   blobs,
		queue:   q,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.Principal)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/uploads", func(r chi.Router) {
		r.Post("/", s.handleCreateUpload)
		r.Get("/", s.handleListUploads)
		r.Get("/{uploadID}", s.handleGetUpload)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds baseline hardening headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
