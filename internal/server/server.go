// Package server accepts client connections and runs one trading session per connection.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/registry"
	"go.uber.org/zap"
)

// ErrBind is returned when the listening address cannot be bound.
var ErrBind = errors.New("bind listener")

const acceptBackoff = 10 * time.Millisecond

// Server is the dispatcher: it binds once and spawns a Session per accepted connection.
type Server struct {
	addr     string
	registry *registry.Registry
	session  SessionConfig
	logger   *zap.Logger

	listener net.Listener
	clients  atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a dispatcher for addr.
func NewServer(addr string, reg *registry.Registry, cfg SessionConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		registry: reg,
		session:  cfg,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket. Failures wrap ErrBind.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(ErrBind, "%s: %v", s.addr, err)
	}
	s.listener = l
	s.logger.Info("waiting for a connection request from a client", zap.String("addr", l.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled. On return the listener and every live
// session connection are closed and all sessions have finished.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = s.listener.Close()
	}()

	defer s.shutdownSessions()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}

		n := s.clients.Add(1)
		s.logger.Info("client connected", zap.Int64("client", n), zap.String("remote", conn.RemoteAddr().String()))
		s.track(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)

			sess := NewSession(conn, s.registry, s.session, s.logger)
			if err := sess.Run(ctx); err != nil {
				s.logger.Warn("session ended with error", zap.String("session", sess.ID()), zap.Error(err))
			}
		}()
	}
}

// ActiveSessions returns the number of open session connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// ClientsServed returns how many connections were accepted since start.
func (s *Server) ClientsServed() int64 {
	return s.clients.Load()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) shutdownSessions() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("dispatcher stopped", zap.Int64("clients_served", s.clients.Load()))
}
