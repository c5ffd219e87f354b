// Package server is the HTTP boundary: document ingestion, query answering,
// multi-hop reasoning, background job triggers, and a WebSocket stream for
// watching reasoning steps as they happen. Every response body is a status
// envelope.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/entity"
	"github.com/huytu0702/graphtog/internal/extract"
	"github.com/huytu0702/graphtog/internal/graph"
	"github.com/huytu0702/graphtog/internal/jobs"
	"github.com/huytu0702/graphtog/internal/status"
)

// QueryEngine answers a classified question.
type QueryEngine interface {
	Query(ctx context.Context, question string) status.Envelope
}

// GraphReasoner answers a multi-hop question, optionally scoped to documents.
type GraphReasoner interface {
	AnswerScoped(ctx context.Context, question string, documentIDs []string) status.Envelope
}

// DocumentIngestor runs synchronous ingestion.
type DocumentIngestor interface {
	IngestDocument(ctx context.Context, docID, name, path, content string) (*extract.IngestResult, error)
}

// EntitySearcher serves typo-tolerant entity lookup.
type EntitySearcher interface {
	FuzzyFind(ctx context.Context, term, entityType string, limit int) ([]entity.Match, error)
}

// Deps wires the server to the engine.
type Deps struct {
	Store    graph.Store
	Query    QueryEngine
	Reasoner GraphReasoner
	Ingestor DocumentIngestor
	Search   EntitySearcher
	Jobs     jobs.Queue // optional; nil disables async endpoints
	Logger   *zap.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	router *mux.Router
	http   *http.Server
	logger *zap.Logger
}

// New builds the server and its routes.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: deps.Logger.Named("server"),
	}
	s.routes()

	var h http.Handler = s.router
	h = s.logRequests(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	h = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/documents", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleDeleteDocument).Methods(http.MethodDelete)

	api.HandleFunc("/entities/search", s.handleEntitySearch).Methods(http.MethodGet)

	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/reason", s.handleReason).Methods(http.MethodPost)

	api.HandleFunc("/resolution", s.handleResolve).Methods(http.MethodPost)
	api.HandleFunc("/communities/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/communities/summarize", s.handleSummarize).Methods(http.MethodPost)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/ws/query", s.handleQueryStream).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
