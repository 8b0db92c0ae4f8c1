package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// IPCServer serves the host UI on the loopback interface
type IPCServer struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewIPCServer creates a server bound to 127.0.0.1:port. Port 0 picks a free
// port.
func NewIPCServer(port int, handler http.Handler, logger *zap.Logger) *IPCServer {
	return &IPCServer{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			// A sync triggered over IPC can take several backend round trips.
			WriteTimeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

// Start binds the port and serves in the background.
func (s *IPCServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("IPC server failed", zap.Error(err))
		}
	}()

	s.logger.Info("IPC server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *IPCServer) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

func (s *IPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down IPC server")
	return s.httpServer.Shutdown(ctx)
}
