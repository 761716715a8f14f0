// Package ipc is the demonstration transport front end for a kdbus
// endpoint: it exposes one pkg/kdbus.Endpoint over a Unix domain socket,
// framing kdbus operations (hello, unicast send, name acquire/release) as
// newline-delimited JSON instead of the kernel ioctl()s the real driver
// would use, while routing every operation through the same pkg/kdbus
// core a real transport would.
//
// The Broker owns the socket's accept loop and the table mapping live
// kdbus connection ids to their wire connections. Frame decides what a
// client wants to do; Socket does the byte plumbing.
//
// Example usage:
//
//	broker, err := ipc.New(cfg, bus, endpoint, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := broker.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer broker.Close()
package ipc
