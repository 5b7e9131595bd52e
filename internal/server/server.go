// Package server exposes the HTTP API: ask (unary and SSE streaming),
// document lifecycle, runtime settings, and health. Handlers stay thin;
// the orchestrator and ingest service own the semantics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"quarry/internal/answer"
	"quarry/internal/config"
	"quarry/internal/ingest"
	"quarry/internal/llm"
	"quarry/internal/logging"
	"quarry/internal/search"
	"quarry/internal/store"
)

// Server wires the API surface to the application services.
type Server struct {
	manager *config.Manager
	orch    *answer.Orchestrator
	docs    *ingest.Service
	st      *store.Store
	brave   *search.BraveClient
	llm     llm.Client
}

// New creates a server.
func New(manager *config.Manager, orch *answer.Orchestrator, docs *ingest.Service,
	st *store.Store, brave *search.BraveClient, client llm.Client) *Server {
	return &Server{manager: manager, orch: orch, docs: docs, st: st, brave: brave, llm: client}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Get("/ask/stream", s.handleAskStream)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListDocuments)
			r.Get("/{documentID}", s.handleGetDocument)
			r.Delete("/{documentID}", s.handleDeleteDocument)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleUpdateSettings)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// Start serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.manager.Current()
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
