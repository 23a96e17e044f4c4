// Package server exposes the classification pipeline as an HTTP job endpoint.
//
// A job receives one or more .zip/.xml uploads plus the company and the
// period, runs the pipeline in-process inside job_<uuid>/, keeps the bundle
// under <work_dir>/archives and removes everything else.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"

	"github.com/ginjaninja78/nfe-classifier/internal/config"
	"github.com/ginjaninja78/nfe-classifier/internal/logger"
	"github.com/ginjaninja78/nfe-classifier/internal/pipeline"
	"github.com/ginjaninja78/nfe-classifier/pkg/utils"
)

// RunFunc executes one pipeline run. pipeline.Run in production.
type RunFunc func(ctx context.Context, opt pipeline.Options) (*pipeline.Result, error)

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	cfg      *config.MainConfig
	run      RunFunc
	lookup   pipeline.LookupOpener
	uploader utils.Uploader
	log      *logger.Logger

	mux *chi.Mux
	srv *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithRunner replaces pipeline.Run.
func WithRunner(fn RunFunc) Option { return func(s *Server) { s.run = fn } }

// WithLookup replaces the lookup source built from the configuration.
func WithLookup(fn pipeline.LookupOpener) Option { return func(s *Server) { s.lookup = fn } }

// WithUploader publishes every bundle through u.
func WithUploader(u utils.Uploader) Option { return func(s *Server) { s.uploader = u } }

// WithLogger sets the server logger.
func WithLogger(l *logger.Logger) Option { return func(s *Server) { s.log = l } }

// New builds the router and the http.Server listening on cfg.Server.Addr.
func New(cfg *config.MainConfig, opts ...Option) *Server {
	s := &Server{cfg: cfg, run: pipeline.Run}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logger.Named("http")
	}

	m := chi.NewRouter()
	m.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Heartbeat("/healthz"))
	m.Use(chicors.Handler(chicors.Options{
		AllowedOrigins: allowedOrigins(cfg.Server.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	m.Post("/classify-suppliers", s.handleClassify)
	m.Get("/archives/{name}", s.handleArchive)

	s.mux = m
	s.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.srv.Addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func allowedOrigins(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
