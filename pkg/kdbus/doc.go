// Package kdbus implements the core object graph of a kernel-resident IPC
// broker: namespaces containing buses, buses containing endpoints,
// endpoints accepting connections, plus a per-bus name registry and a
// per-connection metadata collector.
//
// The package does not model the transport that copies message payloads
// into a receiving connection's pool, the policy/match database, or
// name-change notification delivery; callers own those concerns and drive
// this package through its exported constructors and methods.
package kdbus
