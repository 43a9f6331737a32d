package redislite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/noah822/redis-lite/replication"
	"github.com/noah822/redis-lite/server"
	"github.com/noah822/redis-lite/storage"
)

// Role is the replication role of a node
type Role = replication.Role

// Replication roles
const (
	RoleMaster  = replication.RoleMaster
	RoleReplica = replication.RoleReplica
)

// Node is a redis-lite process: a key/value store served over RESP, acting
// either as a master that propagates writes or as a replica that receives
// them.
type Node struct {
	// Configuration
	config *config

	// Components
	storage    *storage.MemoryStorage
	server     *server.Server
	replID     *replication.ID
	registry   *replication.Registry   // master only
	propagator *replication.Propagator // master only

	// State
	mu      sync.Mutex
	started bool
	closed  bool

	// Propagation worker
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to listen and, for a
// replica, to perform the handshake with the master.
//
// Example:
//
//	node, err := redislite.New(
//		redislite.WithAddr(":6380"),
//		redislite.WithReplicaOf("localhost", 6379),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	var storageOpts []storage.MemoryOption
	if cfg.shardCount > 0 {
		storageOpts = append(storageOpts, storage.WithShardCount(cfg.shardCount))
	}
	stor := storage.NewMemory(storageOpts...)

	logger := &loggerAdapter{logger: cfg.logger}

	node := &Node{
		config:  cfg,
		storage: stor,
		server:  server.NewServer(cfg.addr, stor),
	}
	node.server.SetLogger(logger)
	node.server.SetWindowSize(cfg.windowSize)
	if cfg.metrics != nil {
		node.server.SetMetrics(cfg.metrics)
	}

	if cfg.masterAddr != "" {
		if cfg.replID != "" {
			return nil, fmt.Errorf("%w: a replica learns its replication id from the master", ErrInvalidConfig)
		}
		node.replID = replication.NewID("")
		node.server.SetReplica(cfg.masterAddr, node.replID)
		return node, nil
	}

	id := cfg.replID
	if id == "" {
		var err error
		if id, err = replication.GenerateID(); err != nil {
			return nil, fmt.Errorf("failed to generate replication id: %w", err)
		}
	}
	node.replID = replication.NewID(id)
	node.registry = replication.NewRegistry()
	node.propagator = replication.NewPropagator(node.registry)
	node.propagator.SetLogger(logger)
	if cfg.metrics != nil {
		node.propagator.SetMetrics(cfg.metrics)
	}
	node.server.SetMaster(node.replID, node.registry, node.propagator)

	return node, nil
}

// Start begins serving clients.
//
// A master starts its propagation worker. A replica completes the handshake
// with its master before Start returns; a failed handshake stops the
// listener and returns a *HandshakeError.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil // Already started
	}

	if err := n.server.Start(); err != nil {
		n.config.logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: n.config.addr})
		return &ConnectionError{Addr: n.config.addr, Err: err}
	}

	if n.Role() == RoleReplica {
		if err := n.handshake(ctx); err != nil {
			n.server.Stop()
			return err
		}
	} else {
		workerCtx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.done = make(chan struct{})
		go func() {
			defer close(n.done)
			n.propagator.Run(workerCtx)
		}()
	}

	n.started = true
	id, _ := n.replID.Get()
	n.config.logger.Info("Node started",
		Field{Key: "addr", Value: n.server.Addr()},
		Field{Key: "role", Value: n.Role().String()},
		Field{Key: "replid", Value: id})

	return nil
}

// handshake announces this node's listening port to the master and records
// the replication id the master replies with
func (n *Node) handshake(ctx context.Context) error {
	_, port, err := net.SplitHostPort(n.server.Addr())
	if err != nil {
		return &HandshakeError{Master: n.config.masterAddr, Step: replication.StepConnect, Err: err}
	}

	h := replication.NewHandshaker(n.config.masterAddr, port)
	h.SetLogger(&loggerAdapter{logger: n.config.logger})
	h.SetDialTimeout(n.config.handshakeTimeout)
	if n.config.metrics != nil {
		h.SetMetrics(n.config.metrics)
	}

	id, err := h.Run(ctx)
	if err != nil {
		herr := &HandshakeError{Master: n.config.masterAddr, Err: err}
		var stepErr *replication.HandshakeError
		if errors.As(err, &stepErr) {
			herr.Step = stepErr.Step
			herr.Err = stepErr.Err
		}
		return herr
	}

	if err := n.replID.Set(id); err != nil {
		return &HandshakeError{Master: n.config.masterAddr, Step: replication.StepPSync, Err: err}
	}
	return nil
}

// Close gracefully shuts down the node
//
// It stops the listener, closes client connections, stops the propagation
// worker and closes its replica connections.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	// Stop server first so no new writes are queued
	if err := n.server.Stop(); err != nil {
		n.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
	}

	if n.cancel != nil {
		n.cancel()
		<-n.done
	}

	if err := n.storage.Close(); err != nil {
		return err
	}

	n.config.logger.Info("Node stopped", Field{Key: "role", Value: n.Role().String()})
	return nil
}

// Addr returns the address the node listens on
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Role returns whether the node is a master or a replica
func (n *Node) Role() Role {
	return n.server.Role()
}

// ReplicationID returns the node's replication id. A replica reports false
// until its handshake has completed.
func (n *Node) ReplicationID() (string, bool) {
	return n.replID.Get()
}

// MasterAddr returns the master a replica follows
func (n *Node) MasterAddr() (string, error) {
	if n.Role() != RoleReplica {
		return "", ErrNotReplica
	}
	return n.config.masterAddr, nil
}

// Replicas returns the addresses of the registered replicas in registration
// order. It is empty on a replica.
func (n *Node) Replicas() []string {
	if n.registry == nil {
		return nil
	}
	return n.registry.Snapshot()
}

// Storage returns the underlying storage for direct access
func (n *Node) Storage() storage.Storage {
	return n.storage
}

// GetInfo returns detailed information about the node
func (n *Node) GetInfo() map[string]interface{} {
	id, _ := n.replID.Get()
	info := map[string]interface{}{
		"role":    n.Role().String(),
		"addr":    n.Addr(),
		"replid":  id,
		"keys":    n.storage.KeyCount(),
		"server":  n.server.Stats(),
		"version": VersionInfo(),
	}
	if n.registry != nil {
		info["replicas"] = n.registry.Snapshot()
	}
	if n.propagator != nil {
		info["propagation_pending"] = n.propagator.Pending()
	}
	if n.config.masterAddr != "" {
		info["master"] = n.config.masterAddr
	}
	return info
}
