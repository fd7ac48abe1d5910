// Package server exposes a triage session over a small JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ivdimova/inbox-triage-assistant/triage"
)

const (
	maxBodySize     = 8 * 1024
	shutdownTimeout = 10 * time.Second
)

type Option func(*Server)

// WithDefaults sets the counts used when a login request omits them.
func WithDefaults(messageCount, clusterCount int) Option {
	return func(s *Server) {
		if messageCount > 0 {
			s.messageCount = messageCount
		}
		if clusterCount > 0 {
			s.clusterCount = clusterCount
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

type Server struct {
	session *triage.Session
	logger  *slog.Logger
	metrics *Metrics

	messageCount int
	clusterCount int

	router *chi.Mux
}

func New(session *triage.Session, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		session:      session,
		logger:       logger,
		messageCount: triage.DefaultMessageCount,
		clusterCount: triage.DefaultClusterCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.metrics.Middleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/test", s.handleTest)
	r.Get("/clusters", s.handleClusters)
	r.Post("/login", s.handleLogin)
	r.Post("/archive_cluster", s.handleArchive)
	r.Post("/disconnect", s.handleDisconnect)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
// and disconnects the session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Info("http server listening", "addr", addr)
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = s.session.Disconnect()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	_ = s.session.Disconnect()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("http server stopped")
	}
	return nil
}

func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"latency", time.Since(start),
					"requestId", chimw.GetReqID(r.Context()),
					"remoteAddr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
