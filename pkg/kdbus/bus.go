package kdbus

import (
	"crypto/rand"
	"strconv"
	"strings"
	"sync"
)

const (
	minBloomSize = 8
	maxBloomSize = 16 * 1024
)

// BusFlagPolicyOpen, set in BusMakeParams.Flags, makes the bus's
// auto-created default endpoint bypass access-policy checks.
const BusFlagPolicyOpen uint64 = 1 << 0

// BusMakeParams carries the validated fields a bus-make command supplies,
// whether decoded from the item stream (name, cgroup id) or from the
// command's fixed header (bloom size, flags, and the endpoint access
// parameters applied to the auto-created default endpoint).
type BusMakeParams struct {
	Name      string
	BloomSize uint64
	CgroupID  uint64
	Flags     uint64
	Mode      uint32
	UID       uint32
	GID       uint32
}

// Bus is a domain of discourse: a name registry, a set of endpoints, and
// a connection table, scoped to one namespace.
type Bus struct {
	id        uint64
	name      string
	ns        *Namespace
	bloomSize uint64
	cgroupID  uint64
	flags     uint64
	BloomSeed [16]byte

	life lifecycle

	mu          sync.Mutex
	endpoints   []*Endpoint
	connections map[uint64]*Connection
	nextConn    uint64
	registry    *Registry
}

// MakeBus validates params against ns (name uniqueness, the "<uid>-"
// prefix, bloom_size bounds), and on success creates the bus, links it
// into ns, and auto-creates its default endpoint named "bus".
func MakeBus(ns *Namespace, params BusMakeParams, callerUID uint32) (*Bus, error) {
	if ns.IsDisconnected() {
		return nil, errShutdown("namespace is disconnected")
	}

	prefix := strconv.FormatUint(uint64(callerUID), 10) + "-"
	if !strings.HasPrefix(params.Name, prefix) {
		return nil, errPermissionDenied("bus name must begin with caller uid prefix")
	}
	if err := validateBloomSize(params.BloomSize); err != nil {
		return nil, err
	}

	ns.mu.Lock()
	if ns.findBusLocked(params.Name) != nil {
		ns.mu.Unlock()
		return nil, errAlreadyExists("bus name already exists in namespace")
	}

	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		ns.mu.Unlock()
		return nil, wrapInternal("generate bloom seed", err)
	}

	b := &Bus{
		id:          ns.nextBusIDLocked(),
		name:        params.Name,
		ns:          ns,
		bloomSize:   params.BloomSize,
		cgroupID:    params.CgroupID,
		flags:       params.Flags,
		BloomSeed:   seed,
		connections: make(map[uint64]*Connection),
		nextConn:    1,
		registry:    NewRegistry(),
	}
	ns.linkBusLocked(b)
	ns.mu.Unlock()

	ep := NewEndpoint(b, "bus", params.Mode, params.UID, params.GID, params.Flags&BusFlagPolicyOpen != 0)
	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()

	return b, nil
}

func validateBloomSize(n uint64) error {
	if n < minBloomSize || n > maxBloomSize {
		return errInvalidArgument("bloom_size out of range")
	}
	if n%8 != 0 {
		return errInvalidArgument("bloom_size must be a multiple of 8")
	}
	return nil
}

// ID returns the bus's id, unique within its namespace.
func (b *Bus) ID() uint64 { return b.id }

// Name returns the bus's name.
func (b *Bus) Name() string { return b.name }

// Namespace returns the bus's owning namespace.
func (b *Bus) Namespace() *Namespace { return b.ns }

// BloomSize returns the bloom filter size configured at make time.
func (b *Bus) BloomSize() uint64 { return b.bloomSize }

// CgroupID returns the cgroup hierarchy id configured at make time, or 0
// if none was given.
func (b *Bus) CgroupID() uint64 { return b.cgroupID }

// Registry returns the bus's name registry.
func (b *Bus) Registry() *Registry { return b.registry }

// Endpoints returns a snapshot of the bus's endpoint list.
func (b *Bus) Endpoints() []*Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Endpoint, len(b.endpoints))
	copy(out, b.endpoints)
	return out
}

func (b *Bus) nextConnID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextConn
	b.nextConn++
	return id
}

func (b *Bus) linkConnection(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.id] = c
}

func (b *Bus) unlinkConnection(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, id)
}

// LookupConnection resolves a connection id to its live connection.
func (b *Bus) LookupConnection(id uint64) (*Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.connections[id]
	if !ok {
		return nil, errNotFound("no connection with that id")
	}
	return c, nil
}

// Disconnect idempotently tears the bus down: every endpoint is
// disconnected, which blocks new connections through it, though
// existing connections are left to be released by their own owners.
func (b *Bus) Disconnect() bool {
	if !b.life.disconnect() {
		return false
	}
	b.mu.Lock()
	eps := make([]*Endpoint, len(b.endpoints))
	copy(eps, b.endpoints)
	b.mu.Unlock()
	for _, ep := range eps {
		ep.Disconnect()
	}
	return true
}

// IsDisconnected reports whether Disconnect has run.
func (b *Bus) IsDisconnected() bool {
	return b.life.isDisconnected()
}
