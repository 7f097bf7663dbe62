package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server runs the daemon's local HTTP API.
type Server struct {
	srv    *http.Server
	listen string
	logger *zap.Logger
}

// NewServer creates the API server bound to the given loopback address.
func NewServer(listen string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listen: listen,
		logger: logger,
	}
}

// Start binds the listen address and serves in the background. Bind failures
// are returned synchronously so startup aborts cleanly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.listen
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
