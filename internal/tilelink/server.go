package tilelink

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// Server serves the TileLink service for a Backend.
type Server struct {
	mu       sync.Mutex
	config   *Config
	grpc     *grpc.Server
	listener net.Listener
	serveErr chan error
	started  bool
	closed   bool
}

// NewServer creates a server for backend. It does not listen until Start is called.
func NewServer(config *Config, backend Backend, opts ...grpc.ServerOption) (*Server, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid TileLink config: %w", err)
	}

	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
	}, opts...)

	s := &Server{
		config:   config,
		grpc:     grpc.NewServer(opts...),
		serveErr: make(chan error, 1),
	}
	s.grpc.RegisterService(&serviceDesc, &service{backend: backend})
	return s, nil
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	if err := s.Serve(lis); err != nil {
		_ = lis.Close()
		return err
	}
	return nil
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("cannot start closed TileLink server")
	}
	if s.started {
		return errors.New("TileLink server already started")
	}

	s.listener = lis
	s.started = true
	go func() { s.serveErr <- s.grpc.Serve(lis) }()
	return nil
}

// GetListeningAddress returns the bound address, or empty before Start.
func (s *Server) GetListeningAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsServing reports whether the server is started and not closed.
func (s *Server) IsServing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Close stops the server gracefully, forcing it after ShutdownTimeout.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil // Already closed, idempotent
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.grpc.Stop()
		<-done
	}

	if !started {
		return nil
	}
	if err := <-s.serveErr; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("TileLink server: %w", err)
	}
	return nil
}
