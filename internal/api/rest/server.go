package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidleathers/dnc-propagation-backend/internal/infrastructure/config"
)

// Server wraps the HTTP listener with graceful shutdown
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	shutdown   chan struct{}
}

// NewServer creates the API server around an assembled router
func NewServer(cfg *config.ServerConfig, logger *zap.Logger, router http.Handler) *Server {
	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdown: make(chan struct{}),
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	<-s.shutdown
	return nil
}

// Shutdown drains in-flight requests within the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.shutdown)
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
