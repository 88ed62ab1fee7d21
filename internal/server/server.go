// Package server exposes a small HTTP surface over the client: health,
// fetched data, the compiled reward report, and cache/rate-limit admin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gridlens/gridlens/internal/config"
	"github.com/gridlens/gridlens/internal/core"
)

// API is the slice of the client the server depends on.
type API interface {
	GetHomes(ctx context.Context) ([]core.Home, error)
	GetDevices(ctx context.Context, homeID string) ([]core.Device, error)
	CacheStats() core.CacheStats
	InvalidateCache()
	LimiterState() core.LimiterSnapshot
}

// ReportCompiler produces the multi-period reward report.
type ReportCompiler interface {
	Compile(ctx context.Context) (*core.RewardReport, error)
}

// Server is the HTTP admin/read surface.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	cfg      config.ServerConfig
	api      API
	reporter ReportCompiler
	logger   *zap.Logger
}

// New creates a server instance.
func New(cfg config.ServerConfig, api API, reporter ReportCompiler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		router:   r,
		cfg:      cfg,
		api:      api,
		reporter: reporter,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDuration(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDuration(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDuration(s.cfg.IdleTimeout, 120*time.Second),
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func orDuration(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
