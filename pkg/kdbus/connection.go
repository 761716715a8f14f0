package kdbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DestByName, when passed as a Send destination id, means "resolve the
// destination by name instead of id" — id 0 is reserved for the broker
// itself and can never be a real connection, so it doubles as this
// sentinel.
const DestByName uint64 = 0

// Connection is a client's identity on a bus: a numeric id unique within
// the bus, an optional diagnostic label, the set of names it owns, and
// the metadata classes it has agreed to receive.
type Connection struct {
	id    uint64
	ep    *Endpoint
	host  HostEnv
	life  lifecycle
	ref   int32

	mu         sync.Mutex
	label      string
	attachMask AttachMask
	ownedNames map[string]bool
	poolSize   uint64
	meta       *Metadata
}

// HelloParams carries the decoded hello-item fields a client supplies
// when binding to an endpoint (spec.md §6: conn-name, attach-flags, pool size).
type HelloParams struct {
	ConnName   string
	AttachMask AttachMask
	PoolSize   uint64
}

// Hello binds a new connection to ep, assigning it the next connection id
// on ep's bus. The returned connection holds one strong reference.
func Hello(ep *Endpoint, host HostEnv, params HelloParams) (*Connection, error) {
	if ep.IsDisconnected() {
		return nil, errShutdown("endpoint is disconnected")
	}
	if params.PoolSize == 0 || params.PoolSize > maxPoolSize {
		return nil, errTooLarge("pool size out of bounds")
	}

	meta, err := NewMetadata(host)
	if err != nil {
		return nil, err
	}
	meta.SetConnName(params.ConnName)

	conn := &Connection{
		id:         ep.bus.nextConnID(),
		ep:         ep,
		host:       host,
		ref:        1,
		label:      params.ConnName,
		attachMask: params.AttachMask,
		ownedNames: make(map[string]bool),
		poolSize:   params.PoolSize,
		meta:       meta,
	}
	ep.bus.linkConnection(conn)
	return conn, nil
}

// maxPoolSize is the fixed per-connection receive pool bound (spec.md §5).
const maxPoolSize = 16 * 1024 * 1024

// ID returns the connection's numeric id, unique and >= 1 among live
// connections on its bus.
func (c *Connection) ID() uint64 { return c.id }

// Label returns the connection's diagnostic label.
func (c *Connection) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Endpoint returns the endpoint this connection was established through.
func (c *Connection) Endpoint() *Endpoint { return c.ep }

// Bus returns the bus this connection lives on.
func (c *Connection) Bus() *Bus { return c.ep.bus }

// AttachMask returns the metadata classes this connection currently
// agrees to receive.
func (c *Connection) AttachMask() AttachMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachMask
}

// UpdateAttachMask replaces the set of metadata classes this connection
// agrees to receive.
func (c *Connection) UpdateAttachMask(mask AttachMask) error {
	if c.life.isDisconnected() {
		return errShutdown("connection is disconnected")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachMask = mask
	return nil
}

// AcquireName binds name to this connection in its bus's registry.
func (c *Connection) AcquireName(name string, mode AcquireMode) error {
	if c.life.isDisconnected() {
		return errShutdown("connection is disconnected")
	}
	if err := c.Bus().Registry().Acquire(name, c, mode); err != nil {
		return err
	}
	c.mu.Lock()
	c.ownedNames[name] = true
	c.mu.Unlock()
	return nil
}

// ReleaseName gives up ownership of name.
func (c *Connection) ReleaseName(name string) error {
	if err := c.Bus().Registry().Release(name, c); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.ownedNames, name)
	c.mu.Unlock()
	return nil
}

// OwnedNames returns a snapshot of the names this connection currently owns.
func (c *Connection) OwnedNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ownedNames))
	for n := range c.ownedNames {
		out = append(out, n)
	}
	return out
}

// SendResult describes a resolved, not-yet-delivered send: the
// destination connection and the metadata classes the sender should
// attach, already intersected with what the recipient accepts. Actual
// payload delivery into the recipient's pool is the out-of-scope
// transport layer's job; this package only resolves and validates.
type SendResult struct {
	Destination *Connection
	AttachMask  AttachMask
}

// Send resolves destID (or, if destID == DestByName, destName) to a live
// connection on the same bus, computes the metadata classes the sender
// should attach for this recipient, and returns a descriptor the
// transport layer hands the actual bytes to. It does not copy any
// payload itself.
func (c *Connection) Send(ctx context.Context, destID uint64, destName string) (*SendResult, error) {
	if c.life.isDisconnected() {
		return nil, errShutdown("connection is disconnected")
	}
	select {
	case <-ctx.Done():
		return nil, errTimeout("send canceled")
	default:
	}

	var dest *Connection
	if destID == DestByName {
		if destName == "" {
			return nil, errBadAddress("no destination id or name given")
		}
		dest = c.Bus().Registry().Owner(destName)
		if dest == nil {
			return nil, errNotFound("destination name has no owner")
		}
	} else {
		var err error
		dest, err = c.Bus().LookupConnection(destID)
		if err != nil {
			return nil, err
		}
	}
	if dest.life.isDisconnected() {
		return nil, errShutdown("destination connection is disconnected")
	}

	return &SendResult{
		Destination: dest,
		AttachMask:  c.attachMask & dest.AttachMask(),
	}, nil
}

// CollectMetadata attaches the requested classes to this connection's
// outgoing metadata, resolving owned names through the registry.
func (c *Connection) CollectMetadata(want AttachMask) (*Metadata, error) {
	if want&AttachNames != 0 {
		if err := c.meta.AppendOwnedNames(c.OwnedNames()); err != nil {
			return nil, err
		}
	}
	if err := c.meta.Append(want &^ AttachNames); err != nil {
		return nil, err
	}
	return c.meta, nil
}

// Ref increments the strong reference count and returns the connection
// for chaining.
func (c *Connection) Ref() *Connection {
	atomic.AddInt32(&c.ref, 1)
	return c
}

// Unref drops one strong reference. When the count reaches zero the
// connection disconnects (if it has not already) and is unlinked from
// its bus.
func (c *Connection) Unref() {
	if atomic.AddInt32(&c.ref, -1) > 0 {
		return
	}
	c.Disconnect()
	c.Bus().unlinkConnection(c.id)
}

// Disconnect releases every name this connection owns and marks it
// disconnected. It is idempotent; the second and later calls are no-ops
// and report false.
func (c *Connection) Disconnect() bool {
	if !c.life.disconnect() {
		return false
	}
	c.Bus().Registry().ReleaseAll(c)
	return true
}

// IsLive reports whether the connection has not yet disconnected.
func (c *Connection) IsLive() bool {
	return c.life.isLive()
}
