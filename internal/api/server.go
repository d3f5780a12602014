package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hearken/internal/audio"
	"github.com/mattjoyce/hearken/internal/bus"
	"github.com/mattjoyce/hearken/internal/parser"
	"github.com/mattjoyce/hearken/internal/pipeline"
	"github.com/mattjoyce/hearken/internal/state"
)

const defaultMaxChunkBytes = 8 << 20

// Feeder accepts audio events; *pipeline.Session implements it.
type Feeder interface {
	Ambient(ctx context.Context, chunk *audio.Chunk) error
	Hotword(ctx context.Context, chunk *audio.Chunk) error
	Speech(ctx context.Context, chunk *audio.Chunk) error
	EndUtterance(ctx context.Context, chunk *audio.Chunk) (*pipeline.Report, error)
}

// ParserSet exposes the loader state; *parser.Loader implements it.
type ParserSet interface {
	Loaded() []*parser.Instance
	Failures() map[string]*parser.LoadError
}

// UtteranceReader reads the ledger; *state.UtteranceStore implements it.
type UtteranceReader interface {
	Get(ctx context.Context, id string) (*state.Utterance, error)
	List(ctx context.Context, limit int) ([]*state.Utterance, error)
}

// EventSource backs the SSE stream; *bus.Hub implements it.
type EventSource interface {
	Subscribe() (<-chan bus.Event, func())
	SnapshotSince(lastID int64) []bus.Event
}

// Config holds API server configuration
type Config struct {
	Listen        string
	MaxChunkBytes int64
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	feeder    Feeder
	parsers   ParserSet
	ledger    UtteranceReader
	events    EventSource
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. ledger and metrics may be nil.
func New(config Config, feeder Feeder, parsers ParserSet, ledger UtteranceReader, events EventSource, metrics http.Handler, logger *slog.Logger) *Server {
	if config.MaxChunkBytes <= 0 {
		config.MaxChunkBytes = defaultMaxChunkBytes
	}
	return &Server{
		config:    config,
		feeder:    feeder,
		parsers:   parsers,
		ledger:    ledger,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/events", s.handleEvents)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/audio/end", s.handleEndUtterance)
		r.Post("/audio/{event}", s.handleFeed)
		r.Get("/parsers", s.handleParsers)
		r.Get("/utterances", s.handleListUtterances)
		r.Get("/utterances/{id}", s.handleGetUtterance)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
