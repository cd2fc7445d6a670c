// Package server is the read-only HTTP status server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/plotherd/internal/errors"
	"github.com/3leaps/plotherd/internal/server/handlers"
	"github.com/3leaps/plotherd/internal/server/middleware"
)

const shutdownTimeout = 10 * time.Second

// Server serves health, version, metrics and, when a supervisor is
// attached, the job and directory views.
type Server struct {
	host     string
	port     int
	logger   *zap.Logger
	sup      handlers.Supervisor
	gatherer prometheus.Gatherer
	version  handlers.VersionInfo

	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

func WithSupervisor(sup handlers.Supervisor) Option {
	return func(s *Server) { s.sup = sup }
}

func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithVersion(v handlers.VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(host string, port int, opts ...Option) *Server {
	s := &Server{host: host, port: port, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recovery, middleware.Logger(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no route for %s", req.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), nil)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.sup != nil {
		api := handlers.NewJobsAPI(s.sup)
		r.Get("/jobs", api.List)
		r.Get("/jobs/{prefix}", api.Detail)
		r.Get("/jobs/{prefix}/files", api.Files)
		r.Get("/dsched", api.DestinationSchedule)
		r.Get("/dirs", api.Dirs)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Port() int { return s.port }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("Status server stopped")
	return nil
}
