package kdbus

import "sync"

// subsystem encapsulates the broker's only global mutable state: the
// namespace list and the namespace-id allocator. Per spec.md §9, this is
// exposed only through the package-level functions below so every other
// caller reaches it through the single facade, preserving the lock order
// (global subsystem lock → namespace lock → ...).
type subsystem struct {
	mu         sync.Mutex
	root       *Namespace
	namespaces []*Namespace
	nextNSID   uint64
}

var global = &subsystem{nextNSID: 1}

// NewRootNamespace creates and returns the subsystem's root namespace.
// Calling it again after a root namespace already exists returns the
// existing one; there is exactly one root per process.
func NewRootNamespace() *Namespace {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.root != nil {
		return global.root
	}
	id := global.nextNSID
	global.nextNSID++
	ns := newRootNamespace(id)
	global.root = ns
	global.namespaces = append(global.namespaces, ns)
	return ns
}

// MakeNamespace creates a namespace nested under parent, under the
// global subsystem lock (for id allocation) and then the parent's own
// lock (for sibling-uniqueness and linking), matching the broker's
// documented lock order.
func MakeNamespace(parent *Namespace, name string) (*Namespace, error) {
	global.mu.Lock()
	id := global.nextNSID
	global.nextNSID++
	global.mu.Unlock()

	child, err := parent.MakeChild(id, name)
	if err != nil {
		return nil, err
	}

	global.mu.Lock()
	global.namespaces = append(global.namespaces, child)
	global.mu.Unlock()
	return child, nil
}

// LookupNamespace returns the namespace with the given id, if it is
// still in the global list (namespaces are removed from it on disconnect).
func LookupNamespace(id uint64) (*Namespace, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	for _, ns := range global.namespaces {
		if ns.id == id {
			return ns, true
		}
	}
	return nil, false
}

// unlinkNamespace removes ns from the global namespace list. Called once
// by Namespace.Disconnect, under the global subsystem lock, per spec.md
// §3's invariant that a disconnected namespace is removed from the
// global list.
func unlinkNamespace(ns *Namespace) {
	global.mu.Lock()
	defer global.mu.Unlock()
	for i, n := range global.namespaces {
		if n == ns {
			global.namespaces = append(global.namespaces[:i], global.namespaces[i+1:]...)
			break
		}
	}
	if global.root == ns {
		global.root = nil
	}
}

// resetSubsystemForTest clears all global state. Only pkg/kdbus's own
// tests call this, to get a fresh root namespace per test case despite
// the facade's process-wide singleton.
func resetSubsystemForTest() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.root = nil
	global.namespaces = nil
	global.nextNSID = 1
}
