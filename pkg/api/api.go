package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/runner"
	"github.com/e2elab/runnoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       store.Store
	orch        runner.Orchestrator
	registry    *prometheus.Registry
	validate    *validator.Validate
	localServer *localFileServer
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer creates a new API server. registry may be nil to disable the
// metrics endpoint.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	orch runner.Orchestrator,
	registry *prometheus.Registry,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		store:    st,
		orch:     orch,
		registry: registry,
		validate: validator.New(),
	}
}

// Start builds the router and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if s.cfg.Storage.Backend == "local" && s.cfg.Storage.Local != nil {
		s.localServer = newLocalFileServer(s.log, s.cfg.Storage.Local)

		s.log.Info("Local file serving enabled")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
