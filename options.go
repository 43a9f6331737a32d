package redislite

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/noah822/redis-lite/detect"
	"github.com/noah822/redis-lite/replication"
)

// minWindowSize is the smallest window that can hold the replica handshake
var minWindowSize = len(detect.ReplicaHandshake)

// config holds the configuration for a Node
type config struct {
	// Listener
	addr string

	// Replication
	masterAddr       string // empty for a master
	replID           string // master only; generated when empty
	handshakeTimeout time.Duration
	windowSize       int

	// Storage
	shardCount int

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:             ":6379",
		handshakeTimeout: 5 * time.Second,
		windowSize:       detect.DefaultCapacity,
		logger:           &defaultLogger{},
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithAddr sets the address the node listens on
//
// Example:
//
//	WithAddr(":6380")
//	WithAddr("127.0.0.1:0")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
		}
		c.addr = addr
		return nil
	}
}

// WithReplicaOf makes the node a replica of the master at host:port
//
// Example:
//
//	WithReplicaOf("localhost", 6379)
func WithReplicaOf(host string, port int) Option {
	return func(c *config) error {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		if host == "" || port < 1 || port > 65535 {
			return &ConnectionError{
				Addr: addr,
				Err:  ErrInvalidConfig,
			}
		}
		c.masterAddr = addr
		return nil
	}
}

// WithReplicationID fixes the replication id a master hands to its
// replicas instead of generating one
//
// Example:
//
//	WithReplicationID("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb")
func WithReplicationID(id string) Option {
	return func(c *config) error {
		if !replication.ValidID(id) {
			return fmt.Errorf("%w: replication id must be %d alphanumeric characters", ErrInvalidConfig, replication.IDLength)
		}
		c.replID = id
		return nil
	}
}

// WithWindowSize sets how many recent commands each connection remembers
// for handshake detection. It must be large enough to hold the handshake.
//
// Example:
//
//	WithWindowSize(8)
func WithWindowSize(size int) Option {
	return func(c *config) error {
		if size < minWindowSize {
			return fmt.Errorf("%w: window size %d is smaller than %d", ErrInvalidConfig, size, minWindowSize)
		}
		c.windowSize = size
		return nil
	}
}

// WithHandshakeTimeout bounds connecting to the master during the replica
// handshake
//
// Example:
//
//	WithHandshakeTimeout(10 * time.Second)
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of storage shards, rounded up to a power of two
//
// Example:
//
//	WithShardCount(128)
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = count
		return nil
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(metrics.NewCollector(prometheus.DefaultRegisterer))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}
