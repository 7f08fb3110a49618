// Package server exposes the operational HTTP surface of a running engine:
// health, Prometheus metrics and read-only views of monitored tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/headline-goat/statwatch/internal/monitor"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	engine    *monitor.Engine
	gatherer  prometheus.Gatherer
	port      int
	router    *http.ServeMux
	startTime time.Time
	logger    *zap.Logger
}

// New builds a server for engine. gatherer backs /metrics; pass nil to use
// the default Prometheus registry.
func New(engine *monitor.Engine, port int, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		engine:    engine,
		gatherer:  gatherer,
		port:      port,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		logger:    logger.With(zap.String("component", "server")),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/api/tests", s.handleTests)
	s.router.HandleFunc("/api/tests/{id}/results", s.handleResults)
	s.router.HandleFunc("/api/tests/{id}/alerts", s.handleAlerts)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.Int("port", s.port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}
