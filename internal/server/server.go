package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/XueKirby/mastodon-streaming/internal/serverutil"
)

// Config controls where the gateway listens.
type Config struct {
	// Addr is the TCP listen address; ignored when SocketPath is set.
	Addr string
	// SocketPath selects a UNIX domain socket, chmod'd world-writable so
	// the fronting web server can connect regardless of its user.
	SocketPath string
	Logger     *slog.Logger
}

// Server hosts the streaming route tree.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
	socketPath string
}

// New assembles the HTTP server. Write timeouts stay unset: every streaming
// response is long-lived by design.
func New(handler http.Handler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:     logger,
		addr:       cfg.Addr,
		socketPath: cfg.SocketPath,
	}
}

// Run binds the listener and serves until the context is cancelled, then
// drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	if s.socketPath != "" {
		defer os.Remove(s.socketPath)
		s.logger.Info("listening", "socket", s.socketPath)
	} else {
		s.logger.Info("listening", "addr", listener.Addr().String())
	}

	return serverutil.Run(ctx, serverutil.Config{
		Server:   s.httpServer,
		Listener: listener,
	})
}

func (s *Server) listen() (net.Listener, error) {
	if s.socketPath != "" {
		// A stale socket from a crashed worker blocks the bind.
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		listener, err := net.Listen("unix", s.socketPath)
		if err != nil {
			return nil, fmt.Errorf("bind unix socket: %w", err)
		}
		if err := os.Chmod(s.socketPath, 0o666); err != nil {
			listener.Close()
			return nil, fmt.Errorf("chmod unix socket: %w", err)
		}
		return listener, nil
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("bind tcp listener: %w", err)
	}
	return listener, nil
}
