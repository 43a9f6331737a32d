// Package redislite provides a small Redis-compatible key/value server with
// single-leader replication.
//
// A Node is either a master or a replica. A master accepts GET and SET from
// any client and forwards every accepted write, byte for byte, to each
// registered replica. A replica connects to its master at startup, performs
// the PING / REPLCONF / REPLCONF / PSYNC handshake announcing its own
// listening port, and then applies the writes the master sends to that port.
//
// Basic usage:
//
//	master, err := redislite.New(redislite.WithAddr(":6379"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer master.Close()
//
//	if err := master.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	replica, err := redislite.New(
//		redislite.WithAddr(":6380"),
//		redislite.WithReplicaOf("localhost", 6379),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer replica.Close()
//
//	// Blocks until the handshake with the master has completed
//	if err := replica.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// There is no initial data transfer: a replica only sees writes made after
// it registered. Propagation is fire-and-forget and no offsets are tracked.
//
// For more examples, see the examples/ directory.
package redislite
