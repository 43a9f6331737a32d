// Package server provides the Redis protocol server: it accepts client
// connections, decodes requests and routes commands.
//
// Every connection runs in its own goroutine with its own command window
// (see package detect). On a master the window recognizes the replication
// handshake; when it completes, the peer is registered as a replica and
// answered with FULLRESYNC instead of the normal PSYNC routing. Accepted
// write commands are handed to the propagator verbatim.
//
// Supported commands: PING, ECHO, GET, SET, INFO, REPLCONF, PSYNC, QUIT.
package server
