// Package replication implements single-leader replication: the master-side
// replica registry and propagation worker, and the replica-side handshake.
//
// On the master, a connection that completes the replication handshake is
// added to the Registry under the address the replica listens on. Every
// accepted write command is handed to the Propagator as raw bytes; a single
// worker forwards each message, in enqueue order, to every registered
// replica.
//
// On a replica, Handshaker performs the four-step exchange with the master
// once at startup and yields the master's replication id.
//
// Basic usage:
//
//	registry := replication.NewRegistry()
//	prop := replication.NewPropagator(registry)
//	go prop.Run(ctx)
//
//	registry.Insert("10.0.0.7:6380")
//	prop.Enqueue(rawSetCommand)
package replication
