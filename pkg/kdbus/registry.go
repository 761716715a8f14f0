package kdbus

import "sync"

// AcquireMode selects what happens when a name is already owned.
type AcquireMode int

const (
	// AcquireFailIfTaken fails with already-exists if another
	// connection currently owns the name.
	AcquireFailIfTaken AcquireMode = iota
	// AcquireQueue joins the waiter list behind the current owner,
	// to be promoted automatically when the name is released.
	AcquireQueue
	// AcquireReplaceExisting preempts the current owner, which is
	// pushed to the back of the waiter list, and takes ownership
	// immediately.
	AcquireReplaceExisting
)

type nameEntry struct {
	owner   *Connection
	waiters []*Connection
}

// NameInfo is a read-only snapshot of one registry entry, returned by
// Registry.List.
type NameInfo struct {
	Name      string
	OwnerID   uint64
	WaiterIDs []uint64
}

// Registry is a bus's well-known-name table: at most one current owner
// per name, with a FIFO queue of waiters. Every mutation happens under a
// single mutex, the innermost lock in the broker's lock order (spec.md
// §5: ... connection lock → name-registry lock), mirroring the teacher's
// scheduler queue's pattern of one mutex guarding both the map and its
// waiter lists.
type Registry struct {
	mu    sync.Mutex
	names map[string]*nameEntry
}

// NewRegistry returns an empty name registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]*nameEntry)}
}

// Acquire attempts to bind name to conn under mode. It returns
// already-exists when mode is AcquireFailIfTaken and another connection
// already owns the name. Acquiring a name the caller already owns is a
// no-op success.
func (r *Registry) Acquire(name string, conn *Connection, mode AcquireMode) error {
	if err := validateRegistryName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.names[name]
	if !ok {
		r.names[name] = &nameEntry{owner: conn}
		return nil
	}
	if entry.owner == conn {
		return nil
	}
	if entry.owner == nil {
		entry.owner = conn
		return nil
	}

	switch mode {
	case AcquireFailIfTaken:
		return errAlreadyExists("name already owned")
	case AcquireQueue:
		for _, w := range entry.waiters {
			if w == conn {
				return nil
			}
		}
		entry.waiters = append(entry.waiters, conn)
		return nil
	case AcquireReplaceExisting:
		preempted := entry.owner
		entry.owner = conn
		entry.waiters = append(entry.waiters, preempted)
		return nil
	default:
		return errInvalidArgument("unknown acquire mode")
	}
}

// Release gives up ownership of name. The caller must be the current
// owner; releasing a name the caller does not own is a no-op error. The
// head waiter, if any, is promoted atomically with the release.
func (r *Registry) Release(name string, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.names[name]
	if !ok || entry.owner != conn {
		return errInvalidArgument("release by non-owner")
	}
	r.releaseLocked(name, entry)
	return nil
}

// releaseLocked vacates entry's ownership and promotes the head waiter,
// or deletes the entry entirely if nothing remains. Called with r.mu held.
func (r *Registry) releaseLocked(name string, entry *nameEntry) {
	if len(entry.waiters) > 0 {
		entry.owner = entry.waiters[0]
		entry.waiters = entry.waiters[1:]
		return
	}
	entry.owner = nil
	delete(r.names, name)
}

// ReleaseAll releases every name conn owns and removes conn from every
// waiter list it joined, in unspecified order (plain map iteration).
// Called from Connection.Disconnect.
func (r *Registry) ReleaseAll(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, entry := range r.names {
		if entry.owner == conn {
			r.releaseLocked(name, entry)
			continue
		}
		entry.waiters = removeWaiter(entry.waiters, conn)
	}
}

func removeWaiter(waiters []*Connection, conn *Connection) []*Connection {
	for i, w := range waiters {
		if w == conn {
			return append(waiters[:i], waiters[i+1:]...)
		}
	}
	return waiters
}

// List returns a snapshot of every name currently tracked by the
// registry, owned or merely waited-on.
func (r *Registry) List() []NameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NameInfo, 0, len(r.names))
	for name, entry := range r.names {
		info := NameInfo{Name: name}
		if entry.owner != nil {
			info.OwnerID = entry.owner.ID()
		}
		for _, w := range entry.waiters {
			info.WaiterIDs = append(info.WaiterIDs, w.ID())
		}
		out = append(out, info)
	}
	return out
}

// Owner returns the current owner of name, or nil if vacant or unknown.
func (r *Registry) Owner(name string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.names[name]
	if !ok {
		return nil
	}
	return entry.owner
}

func validateRegistryName(name string) error {
	if len(name) == 0 || len(name) > 63 {
		return errNameTooLong("name must be 1-63 bytes")
	}
	return nil
}
