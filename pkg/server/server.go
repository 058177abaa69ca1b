// Package server exposes the DocBrain REST API.
//
// The surface is deliberately plain JSON over chi: entity CRUD for
// knowledge bases, documents, curated questions, and conversations, a
// polling endpoint for asynchronous answers, and a synchronous query
// endpoint for tools. Uploads and question writes return immediately
// after enqueueing; the job queue does the heavy lifting.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docbrain-ai/docbrain/pkg/auth"
	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/ingest"
	"github.com/docbrain-ai/docbrain/pkg/metastore"
	"github.com/docbrain-ai/docbrain/pkg/observability"
	"github.com/docbrain-ai/docbrain/pkg/query"
)

// Server is the DocBrain HTTP API server.
type Server struct {
	cfg    config.ServerConfig
	store  *metastore.Store
	ingest *ingest.Service
	router *query.Router
	obs    *observability.Manager
	auth   auth.TokenValidator

	mux    chi.Router
	server *http.Server
}

// Deps carries the server's collaborators.
type Deps struct {
	Store     *metastore.Store
	Ingest    *ingest.Service
	Router    *query.Router
	Obs       *observability.Manager
	Validator auth.TokenValidator
}

// NewServer creates the API server and builds its routes.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if deps.Store == nil || deps.Ingest == nil || deps.Router == nil {
		return nil, errors.New("server requires a store, an ingest service, and a query router")
	}
	if deps.Obs == nil {
		deps.Obs = observability.NoopManager()
	}

	s := &Server{
		cfg:    cfg,
		store:  deps.Store,
		ingest: deps.Ingest,
		router: deps.Router,
		obs:    deps.Obs,
		auth:   deps.Validator,
	}
	s.mux = s.buildRoutes()
	return s, nil
}

// buildRoutes assembles the chi router and middleware chain.
func (s *Server) buildRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.obs.GetTracer("docbrain.http"), s.obs.GetMetrics()))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(s.corsMiddleware)
	}

	// Operational endpoints stay outside auth.
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(auth.Middleware(s.auth))
		}

		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Post("/", s.handleCreateKnowledgeBase)
			r.Get("/", s.handleListKnowledgeBases)

			r.Route("/{knowledgeBaseID}", func(r chi.Router) {
				r.Get("/", s.handleGetKnowledgeBase)
				r.Delete("/", s.handleDeleteKnowledgeBase)
				r.Post("/query", s.handleQuery)

				r.Route("/documents", func(r chi.Router) {
					r.Post("/", s.handleUploadDocument)
					r.Get("/", s.handleListDocuments)
					r.Get("/{documentID}", s.handleGetDocument)
					r.Delete("/{documentID}", s.handleDeleteDocument)
				})

				r.Route("/questions", func(r chi.Router) {
					r.Post("/", s.handleCreateQuestion)
					r.Get("/", s.handleListQuestions)
					r.Get("/{questionID}", s.handleGetQuestion)
					r.Put("/{questionID}", s.handleUpdateQuestion)
					r.Delete("/{questionID}", s.handleDeleteQuestion)
				})

				r.Route("/conversations", func(r chi.Router) {
					r.Post("/", s.handleCreateConversation)
					r.Get("/", s.handleListConversations)
				})
			})
		})

		// Conversation and message ids are globally unique, so these
		// routes do not repeat the knowledge base segment.
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Delete("/", s.handleDeleteConversation)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handlePostMessage)
		})
		r.Get("/messages/{messageID}", s.handleGetMessage)
	})

	return r
}

// Start runs the server until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the configured bind address.
func (s *Server) Address() string {
	return s.cfg.Address()
}

// Handler returns the routed handler, used by tests and embedders.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth reports liveness plus database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware reflects allowed origins from config.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
