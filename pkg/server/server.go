// Package server implements the RTSP/RTP streaming server: a TCP acceptor
// that runs one session state machine per control connection and one paced
// RTP streamer per playing session.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/ethan/mjpeg-streamer/pkg/config"
	"github.com/ethan/mjpeg-streamer/pkg/logger"
)

// Server owns the listening socket and weakly tracks its sessions so the
// process can exit cleanly.
type Server struct {
	cfg *config.Server
	log *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a Server around cfg.
func New(cfg *config.Server, log *logger.Logger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log,
		conns: make(map[net.Conn]struct{}),
	}
}

// Run binds the control socket and accepts connections until ctx is
// cancelled. A bind failure is returned to the caller; the binary exits
// non-zero on it.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Hostname, strconv.Itoa(s.cfg.ServerPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// Go sizes the accept queue itself; the configured backlog is kept as
	// a validated, logged option for parity with other deployments.
	s.log.Info("server listening",
		"addr", listener.Addr(),
		"video_folder", s.cfg.VideoFolder,
		"backlog", s.cfg.Backlog)

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Error("accept failed", "error", err)
			break
		}

		connID := uuid.NewString()
		sessionLog := s.log.With("conn_id", connID, "remote_addr", conn.RemoteAddr())

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newSession(conn, s.cfg.VideoFolder, sessionLog).serve()
		}()
	}

	s.wg.Wait()
	s.log.Info("server stopped")
	return nil
}

// Addr returns the bound control address, or nil before Run has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// shutdown closes the listener and every open control connection, which
// unblocks the session loops.
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
