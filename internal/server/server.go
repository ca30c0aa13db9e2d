// Package server implements the relaymux downstream acceptor: it reads a
// one-line routing preamble from each consumer connection, routes the
// connection to a worker by hashing the routing key, and the worker
// subscribes it to the shared upstream broadcast for that key.
package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relaymux/pkg/broadcast"
	"github.com/ajitpratap0/relaymux/pkg/config"
	"github.com/ajitpratap0/relaymux/pkg/upstream"
)

// preambleTimeout bounds how long a consumer may take to send its
// routing key.
const preambleTimeout = 10 * time.Second

// maxKeyLength rejects preambles that are clearly not routing keys.
const maxKeyLength = 4096

// Server accepts downstream consumer connections and multiplexes them
// onto shared upstream broadcasts via per-worker pools.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *Registry
	manager  *broadcast.Manager[upstream.Message, string]

	mu       sync.Mutex
	listener net.Listener
	started  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a server from the given configuration.
func New(cfg *config.Config, logger *zap.Logger) *Server {
	connector := upstream.NewTCPConnector(cfg.Upstream.Address, logger)
	builder := upstream.NewStreamBuilder(logger)

	manager := broadcast.NewManager[upstream.Message, string](logger,
		func(worker int) *broadcast.Pool[upstream.Message, string] {
			return broadcast.NewPool[upstream.Message, string](connector, builder,
				broadcast.WithName(fmt.Sprintf("worker-%d", worker)),
				broadcast.WithLogger(logger),
				broadcast.WithConnectTimeout(cfg.Upstream.ConnectTimeout.Std()))
		})

	return &Server{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "server")),
		registry: NewRegistry(),
		manager:  manager,
		quit:     make(chan struct{}),
	}
}

// Start binds the listener, starts the worker shards and begins accepting
// connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener
	s.started = true

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w := newWorker(i, s.manager.PoolFor(i), s.logger)
		w.start()
		s.registry.Add(w)
	}

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger.Info("server started",
		zap.String("listen", listener.Addr().String()),
		zap.String("upstream", s.cfg.Upstream.Address),
		zap.Int("workers", workers))
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handshake(conn)
		}()
	}
}

// handshake reads the routing preamble and hands the connection to the
// worker owning that key. Consumers send exactly one line before turning
// into pure receivers, so nothing beyond the preamble is buffered away.
func (s *Server) handshake(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(preambleTimeout)); err != nil {
		_ = conn.Close()
		return
	}

	line, err := bufio.NewReaderSize(conn, maxKeyLength).ReadString('\n')
	if err != nil {
		s.logger.Debug("preamble read failed",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.Error(err))
		_ = conn.Close()
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return
	}

	key := strings.TrimSpace(line)
	if key == "" {
		s.logger.Debug("empty routing key",
			zap.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	w := s.registry.Pick(key)
	if w == nil || !w.dispatch(key, conn) {
		s.logger.Warn("no worker available",
			zap.String("stream", key))
		_ = conn.Close()
	}
}

// Stop shuts the server down: stop accepting, stop the workers, close the
// per-worker pools. Live broadcasts terminate through their own transports.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	listener := s.listener
	s.mu.Unlock()

	close(s.quit)
	if err := listener.Close(); err != nil {
		s.logger.Debug("listener close failed", zap.Error(err))
	}

	s.registry.ForEach(func(w *Worker) { w.stop() })
	s.manager.Close()
	s.wg.Wait()

	s.logger.Info("server stopped")
}
