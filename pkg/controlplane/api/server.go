package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/auth"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
	"github.com/hyperbridge/dmabridge/pkg/service"
	"github.com/hyperbridge/dmabridge/pkg/session"
)

// Server serves the control plane's REST API: peer bootstrap CRUD, the
// control-verb endpoints, session minting, and health probes. It supports
// graceful shutdown with a bounded timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer builds a Server wired to svc (the control surface) and cpStore
// (peer/audit persistence). minter mints the Bearer session tokens the
// protected routes require; authenticator, if non-nil, lets POST
// /v1/sessions exchange a real auth token instead of a bare owner_vm.
func NewServer(config APIConfig, svc *service.Service, cpStore store.Store, minter *session.Minter, authenticator *auth.Authenticator) (*Server, error) {
	if config.Port == 0 {
		config.Port = 8443
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if minter == nil {
		return nil, fmt.Errorf("api: session minter is required")
	}

	router := NewRouter(svc, cpStore, minter, authenticator)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: httpServer, config: config}, nil
}

// Start serves the API and blocks until ctx is canceled or the server
// fails to start. On cancellation it shuts down gracefully with a 5s
// timeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("api server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Stop gracefully shuts down the server. Safe to call more than once or
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("api server shutdown error: %w", err)
			logger.Error("api server shutdown error", "error", err)
		} else {
			logger.Info("api server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.config.Port
}
