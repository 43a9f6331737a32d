package replication

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DeliveryError reports a replica that could not be reached during
// propagation. It is logged and counted; the replica stays registered.
type DeliveryError struct {
	Addr string
	Err  error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("propagation to %s failed: %v", e.Addr, e.Err)
}

// Unwrap returns the wrapped error
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Propagator forwards raw write commands to every registered replica.
//
// Enqueue never blocks: the queue is unbounded. A single worker started with
// Run drains it in FIFO order and writes each message to the replicas in
// registry order, so a slow replica delays the ones after it.
type Propagator struct {
	registry *Registry

	// Queue state
	mu     sync.Mutex
	queue  [][]byte
	notify chan struct{}

	// Worker-owned connection cache, keyed by replica address
	conns map[string]net.Conn

	// Configuration
	dialTimeout time.Duration
	logger      Logger
	metrics     MetricsCollector
	onDeliver   func(addr string, err error)
}

// NewPropagator creates a propagator that fans out to the replicas in registry
func NewPropagator(registry *Registry) *Propagator {
	return &Propagator{
		registry:    registry,
		notify:      make(chan struct{}, 1),
		conns:       make(map[string]net.Conn),
		dialTimeout: 5 * time.Second,
		logger:      &defaultLogger{},
	}
}

// SetLogger sets the logger
func (p *Propagator) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets the metrics collector
func (p *Propagator) SetMetrics(metrics MetricsCollector) {
	p.metrics = metrics
}

// SetDialTimeout bounds how long connecting to a replica may take.
// Zero means no limit.
func (p *Propagator) SetDialTimeout(timeout time.Duration) {
	p.dialTimeout = timeout
}

// OnDeliver registers a hook called after every delivery attempt with the
// replica address and the error, if any. Must be set before Run.
func (p *Propagator) OnDeliver(fn func(addr string, err error)) {
	p.onDeliver = fn
}

// Enqueue queues an encoded command for propagation. The propagator takes
// ownership of raw; callers must not modify it afterwards.
func (p *Propagator) Enqueue(raw []byte) {
	p.mu.Lock()
	p.queue = append(p.queue, raw)
	depth := len(p.queue)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordQueueDepth(depth)
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued messages not yet taken by the worker
func (p *Propagator) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run drains the queue until ctx is cancelled, then closes the cached replica
// connections and returns ctx.Err(). Only one Run may be active at a time.
func (p *Propagator) Run(ctx context.Context) error {
	defer p.closeConns()

	for {
		msg, ok := p.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.notify:
				continue
			}
		}

		p.deliver(ctx, msg)
	}
}

func (p *Propagator) dequeue() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nil, false
	}

	msg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	return msg, true
}

// deliver writes msg to every replica in the current registry snapshot
func (p *Propagator) deliver(ctx context.Context, msg []byte) {
	for _, addr := range p.registry.Snapshot() {
		err := p.writeTo(ctx, addr, msg)
		if err != nil {
			derr := &DeliveryError{Addr: addr, Err: err}
			p.logger.Error("Propagation delivery failed", "replica", addr, "error", derr)
			if p.metrics != nil {
				p.metrics.RecordError("propagation")
			}
		} else {
			p.logger.Debug("Propagated command", "replica", addr, "bytes", len(msg))
		}

		if p.metrics != nil {
			p.metrics.RecordPropagation(err == nil)
		}
		if p.onDeliver != nil {
			p.onDeliver(addr, err)
		}
	}
}

func (p *Propagator) writeTo(ctx context.Context, addr string, msg []byte) error {
	conn, err := p.conn(ctx, addr)
	if err != nil {
		return err
	}

	if _, err := conn.Write(msg); err != nil {
		conn.Close()
		delete(p.conns, addr)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// conn returns the cached connection to addr, dialing a new one if needed
func (p *Propagator) conn(ctx context.Context, addr string) (net.Conn, error) {
	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}

	dialer := &net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	// Replicas answer propagated commands like any client would; nobody
	// reads those replies, so drain them to keep the replica from blocking.
	go io.Copy(io.Discard, conn)

	p.conns[addr] = conn
	p.logger.Debug("Connected to replica", "replica", addr)
	return conn, nil
}

func (p *Propagator) closeConns() {
	for addr, conn := range p.conns {
		conn.Close()
		delete(p.conns, addr)
	}
}
