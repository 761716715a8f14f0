package ipc

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/amigadave/kdbus/internal/logger"
	"github.com/amigadave/kdbus/pkg/types"
)

// ConnHandler is invoked once per accepted connection, in its own
// goroutine. It owns the connection for its entire lifetime and must
// close it before returning.
type ConnHandler func(net.Conn)

// Socket listens on a Unix domain socket and hands each accepted
// connection to a ConnHandler. It tracks only the connection count for
// the max-connections gate and read/write deadlines; everything above
// byte transport (framing, identity, routing) is the Broker's job.
type Socket struct {
	path     string
	listener net.Listener

	mu        sync.RWMutex
	closed    bool
	connCount int

	wg      sync.WaitGroup
	closeCh chan struct{}

	maxConns   int
	bufferSize int
	timeout    time.Duration

	handler ConnHandler
	logger  *logger.Logger
}

// NewSocket creates an unbound Unix domain socket for path, removing any
// stale socket file left behind by a previous run. Listen binds it.
func NewSocket(path string, cfg SocketConfig, handler ConnHandler, log *logger.Logger) (*Socket, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if handler == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "connection handler cannot be nil")
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to remove existing socket file", err)
		}
	}

	return &Socket{
		path:       path,
		closeCh:    make(chan struct{}),
		maxConns:   cfg.MaxConnections,
		bufferSize: cfg.BufferSize,
		timeout:    cfg.Timeout,
		handler:    handler,
		logger:     log.With("component", "ipc_socket", "socket_path", path),
	}, nil
}

// Listen binds the socket and starts accepting connections. It returns
// once the listener is bound; accepting happens in a background goroutine.
func (s *Socket) Listen() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.NewError(types.ErrCodeUnavailable, "socket is closed")
	}
	s.mu.Unlock()

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to listen on socket", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("ipc socket listening", "path", s.path)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Socket) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if closed {
				return
			}
			s.logger.Error("failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.maxConns > 0 && s.connCount >= s.maxConns {
			s.mu.Unlock()
			s.logger.Warn("connection limit reached, rejecting connection",
				"current_count", s.connCount, "max_connections", s.maxConns)
			conn.Close()
			continue
		}
		s.connCount++
		s.mu.Unlock()

		if s.timeout > 0 {
			conn.SetDeadline(time.Now().Add(s.timeout))
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.connCount--
				s.mu.Unlock()
			}()
			s.handler(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight
// connection handlers to return.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "socket already closed")
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	close(s.closeCh)
	s.wg.Wait()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove socket file", "path", s.path, "error", err)
	}

	s.logger.Info("ipc socket closed", "path", s.path)
	return nil
}

// Stats returns socket statistics.
func (s *Socket) Stats() SocketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SocketStats{Path: s.path, ActiveConns: s.connCount}
}

// String returns a string representation of the socket.
func (s *Socket) String() string {
	stats := s.Stats()
	return fmt.Sprintf("Socket{Path: %s, ActiveConns: %d}", stats.Path, stats.ActiveConns)
}

// SocketStats represents socket statistics.
type SocketStats struct {
	Path        string `json:"path"`
	ActiveConns int    `json:"active_connections"`
}

// String returns a string representation of the stats.
func (s SocketStats) String() string {
	return fmt.Sprintf("SocketStats{Path: %s, Active: %d}", s.Path, s.ActiveConns)
}

// SocketConfig contains socket configuration.
type SocketConfig struct {
	MaxConnections int
	BufferSize     int
	Timeout        time.Duration
}
