package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/amigadave/kdbus/internal/config"
	"github.com/amigadave/kdbus/internal/logger"
	"github.com/amigadave/kdbus/pkg/kdbus"
	"github.com/amigadave/kdbus/pkg/types"
)

// Frame is the front end's wire message: one JSON object per line,
// carrying whichever fields its Kind uses. Client-sent kinds are "hello",
// "send", "acquire_name", and "release_name"; the broker replies with
// "hello_ack", "message", "ack", or "error".
type Frame struct {
	Kind string `json:"kind"`

	// hello / hello_ack
	ConnID     uint64 `json:"conn_id,omitempty"`
	ConnName   string `json:"conn_name,omitempty"`
	AttachMask uint64 `json:"attach_mask,omitempty"`
	PoolSize   uint64 `json:"pool_size,omitempty"`

	// send / message
	DestID   uint64 `json:"dest_id,omitempty"`
	DestName string `json:"dest_name,omitempty"`
	SrcID    uint64 `json:"src_id,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`

	// acquire_name / release_name
	Name string `json:"name,omitempty"`
	Mode int    `json:"mode,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// wireConn pairs a live kdbus connection with the socket it was
// established over, so a resolved Send destination can be turned back
// into bytes on a wire.
type wireConn struct {
	mu  sync.Mutex
	net net.Conn
	enc *json.Encoder
	kc  *kdbus.Connection
}

func (w *wireConn) writeFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(f)
}

// Broker is the accept loop and dispatch table for one kdbus endpoint:
// every accepted socket connection becomes a kdbus.Connection on the
// endpoint's bus, and every frame it sends is routed through that
// connection's Send/AcquireName/ReleaseName calls.
type Broker struct {
	socket *Socket
	bus    *kdbus.Bus
	ep     *kdbus.Endpoint
	host   kdbus.HostEnv
	logger *logger.Logger
	cfg    config.IPCConfig

	mu     sync.RWMutex
	closed bool
	conns  map[uint64]*wireConn
	stats  BrokerStats
}

// New creates a front end that exposes ep over a Unix domain socket at
// cfg.SocketPath. ep must belong to bus.
func New(cfg config.IPCConfig, bus *kdbus.Bus, ep *kdbus.Endpoint, log *logger.Logger) (*Broker, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if ep.Bus() != bus {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "endpoint does not belong to bus")
	}

	b := &Broker{
		bus:    bus,
		ep:     ep,
		host:   kdbus.NewHostEnv(),
		logger: log.With("component", "ipc_broker", "bus", bus.Name(), "endpoint", ep.Name()),
		cfg:    cfg,
		conns:  make(map[uint64]*wireConn),
	}

	socket, err := NewSocket(cfg.SocketPath, SocketConfig{
		MaxConnections: cfg.MaxConnections,
		BufferSize:     cfg.BufferSize,
		Timeout:        cfg.Timeout,
	}, b.handleConn, log)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeInternal, "failed to create socket", err)
	}
	b.socket = socket

	b.logger.Info("ipc broker initialized",
		"socket_path", cfg.SocketPath,
		"buffer_size", cfg.BufferSize,
		"max_connections", cfg.MaxConnections,
		"auth_enabled", cfg.EnableAuth)

	return b, nil
}

// NewDefault creates a front end for ep with default IPC configuration.
func NewDefault(bus *kdbus.Bus, ep *kdbus.Endpoint, log *logger.Logger) (*Broker, error) {
	return New(config.DefaultIPCConfig(), bus, ep, log)
}

// Start binds the socket and begins accepting connections.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return types.NewError(types.ErrCodeUnavailable, "broker is closed")
	}

	if err := b.socket.Listen(); err != nil {
		return types.WrapError(types.ErrCodeInternal, "failed to start socket", err)
	}
	b.logger.Info("ipc broker started")
	return nil
}

// handleConn owns one accepted connection end to end: it performs the
// hello handshake, links the resulting kdbus.Connection into the conns
// table, and then loops reading frames until the client disconnects.
func (b *Broker) handleConn(netConn net.Conn) {
	defer netConn.Close()

	dec := json.NewDecoder(netConn)
	wc := &wireConn{net: netConn, enc: json.NewEncoder(netConn)}

	var hello Frame
	if err := dec.Decode(&hello); err != nil {
		b.logger.Debug("failed to read hello frame", "error", err)
		return
	}
	if hello.Kind != "hello" {
		wc.writeFrame(Frame{Kind: "error", Error: "first frame on a connection must be hello"})
		return
	}

	callerUID, callerGID := uint32(0), uint32(0)
	if b.cfg.EnableAuth {
		uid, gid, err := peerCredentials(netConn)
		if err != nil {
			wc.writeFrame(Frame{Kind: "error", Error: err.Error()})
			return
		}
		callerUID, callerGID = uid, gid
	}
	if !b.ep.CanConnect(callerUID, callerGID) {
		wc.writeFrame(Frame{Kind: "error", Error: "permission denied connecting through this endpoint"})
		return
	}

	kc, err := kdbus.Hello(b.ep, b.host, kdbus.HelloParams{
		ConnName:   hello.ConnName,
		AttachMask: kdbus.AttachMask(hello.AttachMask),
		PoolSize:   hello.PoolSize,
	})
	if err != nil {
		wc.writeFrame(Frame{Kind: "error", Error: err.Error()})
		return
	}
	wc.kc = kc
	defer kc.Unref()

	b.mu.Lock()
	b.conns[kc.ID()] = wc
	b.stats.ConnectionsAccepted++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.conns, kc.ID())
		b.mu.Unlock()
	}()

	if err := wc.writeFrame(Frame{Kind: "hello_ack", ConnID: kc.ID()}); err != nil {
		return
	}
	b.logger.Debug("connection established", "conn_id", kc.ID(), "conn_name", hello.ConnName)

	ctx := context.Background()
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		b.dispatch(ctx, kc, wc, f)
	}
}

// dispatch executes one decoded frame against kc and replies on wc.
func (b *Broker) dispatch(ctx context.Context, kc *kdbus.Connection, wc *wireConn, f Frame) {
	switch f.Kind {
	case "send":
		b.handleSend(ctx, kc, wc, f)
	case "acquire_name":
		if err := kc.AcquireName(f.Name, kdbus.AcquireMode(f.Mode)); err != nil {
			wc.writeFrame(Frame{Kind: "error", Error: err.Error()})
			return
		}
		wc.writeFrame(Frame{Kind: "ack"})
	case "release_name":
		if err := kc.ReleaseName(f.Name); err != nil {
			wc.writeFrame(Frame{Kind: "error", Error: err.Error()})
			return
		}
		wc.writeFrame(Frame{Kind: "ack"})
	default:
		wc.writeFrame(Frame{Kind: "error", Error: "unknown frame kind: " + f.Kind})
	}
}

func (b *Broker) handleSend(ctx context.Context, kc *kdbus.Connection, wc *wireConn, f Frame) {
	result, err := kc.Send(ctx, f.DestID, f.DestName)
	if err != nil {
		wc.writeFrame(Frame{Kind: "error", Error: err.Error()})
		b.mu.Lock()
		b.stats.MessagesFailed++
		b.mu.Unlock()
		return
	}

	var metaBytes []byte
	if result.AttachMask != 0 {
		if meta, err := kc.CollectMetadata(result.AttachMask); err == nil {
			metaBytes = meta.Bytes()
		}
	}

	b.mu.RLock()
	destWC, ok := b.conns[result.Destination.ID()]
	b.mu.RUnlock()
	if !ok {
		wc.writeFrame(Frame{Kind: "error", Error: "destination has no live wire connection"})
		return
	}

	if err := destWC.writeFrame(Frame{
		Kind:     "message",
		SrcID:    kc.ID(),
		Payload:  f.Payload,
		Metadata: metaBytes,
	}); err != nil {
		b.logger.Error("failed to deliver message", "dest_id", result.Destination.ID(), "error", err)
		b.mu.Lock()
		b.stats.MessagesFailed++
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.stats.MessagesSent++
	b.mu.Unlock()
	wc.writeFrame(Frame{Kind: "ack"})
}

// Close stops accepting connections and closes the underlying socket.
// In-flight connection handlers run to completion first.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.NewError(types.ErrCodeInvalid, "broker already closed")
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.socket.Close(); err != nil {
		return err
	}
	b.logger.Info("ipc broker closed")
	return nil
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := b.stats
	stats.LiveConnections = len(b.conns)
	stats.SocketStats = b.socket.Stats()
	return stats
}

// String returns a string representation of the broker.
func (b *Broker) String() string {
	stats := b.Stats()
	return fmt.Sprintf("Broker{Sent: %d, Failed: %d, Accepted: %d, Live: %d}",
		stats.MessagesSent, stats.MessagesFailed, stats.ConnectionsAccepted, stats.LiveConnections)
}

// BrokerStats represents broker statistics.
type BrokerStats struct {
	MessagesSent        int64       `json:"messages_sent"`
	MessagesFailed      int64       `json:"messages_failed"`
	ConnectionsAccepted int64       `json:"connections_accepted"`
	LiveConnections     int         `json:"live_connections"`
	SocketStats         SocketStats `json:"socket_stats"`
}

// String returns a string representation of the stats.
func (s BrokerStats) String() string {
	return fmt.Sprintf("BrokerStats{Sent: %d, Failed: %d, Accepted: %d, Live: %d, Socket: %s}",
		s.MessagesSent, s.MessagesFailed, s.ConnectionsAccepted, s.LiveConnections, s.SocketStats.String())
}
