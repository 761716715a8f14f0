package kdbus

import "sync"

// Endpoint is a named, access-controlled device node on a bus through
// which connections are established. A bus may have several endpoints;
// one named "bus" is created automatically by Bus make.
type Endpoint struct {
	name string
	bus  *Bus

	mu         sync.Mutex
	mode       uint32
	uid, gid   uint32
	policyOpen bool
	life       lifecycle
}

// NewEndpoint constructs an endpoint on bus with the given access
// parameters. It does not link itself into the bus; callers (Bus.make,
// or a later make-endpoint command) do that under the bus lock.
func NewEndpoint(bus *Bus, name string, mode, uid, gid uint32, policyOpen bool) *Endpoint {
	return &Endpoint{
		name:       name,
		bus:        bus,
		mode:       mode,
		uid:        uid,
		gid:        gid,
		policyOpen: policyOpen,
	}
}

// Name returns the endpoint's name, unique among its bus's endpoints.
func (e *Endpoint) Name() string { return e.name }

// Bus returns the endpoint's owning bus.
func (e *Endpoint) Bus() *Bus { return e.bus }

// Mode, UID, GID return the access-control parameters recorded at make
// time. CanConnect gates on UID and GID only; Mode is not consulted.
func (e *Endpoint) Mode() uint32 { return e.mode }
func (e *Endpoint) UID() uint32  { return e.uid }
func (e *Endpoint) GID() uint32  { return e.gid }

// PolicyOpen reports whether this endpoint bypasses access-policy checks
// (inherited from its bus's make flags).
func (e *Endpoint) PolicyOpen() bool { return e.policyOpen }

// CanConnect reports whether a caller with the given uid/gid may
// establish a connection through this endpoint. PolicyOpen bypasses the
// uid/gid gate entirely; otherwise the caller must match the endpoint's
// owning uid or gid.
func (e *Endpoint) CanConnect(callerUID, callerGID uint32) bool {
	if e.policyOpen {
		return true
	}
	return callerUID == e.uid || callerGID == e.gid
}

// Disconnect marks the endpoint disconnected: no new connections may be
// established through it afterward, though existing connections made
// through it survive (spec.md §4.5). Idempotent.
func (e *Endpoint) Disconnect() bool {
	return e.life.disconnect()
}

// IsDisconnected reports whether Disconnect has run.
func (e *Endpoint) IsDisconnected() bool {
	return e.life.isDisconnected()
}
