package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah822/redis-lite/detect"
	"github.com/noah822/redis-lite/protocol"
	"github.com/noah822/redis-lite/replication"
	"github.com/noah822/redis-lite/storage"
)

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for server metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReplicaCount(count int)
	RecordError(errorType string)
}

// Server provides Redis protocol server functionality
type Server struct {
	storage storage.Storage

	// Server configuration
	addr       string
	windowSize int
	logger     Logger
	metrics    MetricsCollector

	// Replication
	role       replication.Role
	replID     *replication.ID
	masterAddr string                  // replica only
	registry   *replication.Registry   // master only
	propagator *replication.Propagator // master only
	writeMu    sync.Mutex              // orders apply and enqueue of writes

	// Connection management
	listener net.Listener
	clients  sync.Map // map[net.Conn]*Client

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// Client represents a connected client
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	window *detect.Window
	server *Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new server. Without further configuration it acts as
// a master with a fresh registry but no propagator; see SetMaster and
// SetReplica.
func NewServer(addr string, stor storage.Storage) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		storage:    stor,
		addr:       addr,
		windowSize: detect.DefaultCapacity,
		logger:     &nopLogger{},
		role:       replication.RoleMaster,
		replID:     replication.NewID(""),
		registry:   replication.NewRegistry(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetMaster configures the server as a master with the given replication id,
// replica registry and propagator. A nil propagator disables propagation.
func (s *Server) SetMaster(replID *replication.ID, registry *replication.Registry, propagator *replication.Propagator) {
	s.role = replication.RoleMaster
	s.replID = replID
	s.registry = registry
	s.propagator = propagator
}

// SetReplica configures the server as a replica of masterAddr. replID is
// filled in once the handshake completes.
func (s *Server) SetReplica(masterAddr string, replID *replication.ID) {
	s.role = replication.RoleReplica
	s.masterAddr = masterAddr
	s.replID = replID
	s.registry = nil
	s.propagator = nil
}

// SetWindowSize sets the per-connection command window capacity
func (s *Server) SetWindowSize(size int) {
	s.windowSize = size
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the metrics collector
func (s *Server) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// Start starts listening and accepting connections in the background
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("Server listening", "addr", s.listener.Addr().String(), "role", s.role.String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the server and closes all client connections
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close()
		}
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Role returns the replication role
func (s *Server) Role() replication.Role {
	return s.role
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	clientCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		clientCount++
		return true
	})

	stats := map[string]interface{}{
		"connected_clients": clientCount,
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
	}
	if s.registry != nil {
		stats["connected_replicas"] = s.registry.Len()
	}
	return stats
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient handles a new client connection
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		window: s.newWindow(),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.clients.Store(conn, client)
	s.logger.Debug("Client connected", "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// newWindow creates a command window with the rules for this server's role
func (s *Server) newWindow() *detect.Window {
	w := detect.NewWindow(s.windowSize)
	if s.role == replication.RoleMaster && s.registry != nil {
		if err := w.Register(detect.ActionRegisterReplica, detect.ReplicaHandshake...); err != nil {
			s.logger.Error("Handshake rule rejected", "error", err, "window", s.windowSize)
		}
	}
	return w
}

// Close closes the client connection
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
	c.server.clients.Delete(c.conn)
}

// handle reads and executes requests until the connection ends
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		value, raw, err := c.reader.ReadFrame()
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.server.logger.Debug("Client disconnected", "remote", c.conn.RemoteAddr().String())
				return
			}
			if protocol.IsMalformed(err) {
				// The stream cannot be resynchronized; report and hang up
				c.server.logger.Debug("Malformed frame", "remote", c.conn.RemoteAddr().String(), "error", err)
				c.server.recordError("protocol")
				c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
			}
			return
		}

		if m := c.server.metrics; m != nil {
			m.RecordNetworkBytes(int64(len(raw)))
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.writeError(fmt.Sprintf("ERR Protocol error: %v", err))
			continue
		}

		c.dispatch(cmd, raw)

		if c.ctx.Err() != nil {
			return
		}
	}
}

// dispatch feeds the command to the window and either fires the matched
// rule or routes the command normally
func (c *Client) dispatch(cmd *protocol.Command, raw []byte) {
	c.server.commandCount.Add(1)
	start := time.Now()

	if match, ok := c.window.Push(cmd.Tokens()); ok {
		c.fire(match)
	} else {
		c.executeCommand(cmd, raw)
	}

	if m := c.server.metrics; m != nil {
		m.RecordCommandProcessed(commandLabel(cmd.Name), time.Since(start))
	}
}

// Response writers

func (c *Client) writeRaw(p []byte) {
	if err := c.writer.WriteRaw(p); err == nil {
		c.writer.Flush()
	}
}

func (c *Client) writeString(s string) {
	c.writeRaw(protocol.EncodeSimpleString(s))
}

func (c *Client) writeError(s string) {
	c.server.errorCount.Add(1)
	c.writeRaw(protocol.EncodeError(s))
}

func (c *Client) writeBulkString(data []byte) {
	c.writeRaw(protocol.EncodeBulkString(data))
}

func (c *Client) writeNull() {
	c.writeRaw(protocol.EncodeNullBulkString())
}

func (c *Client) writeArray(items ...string) {
	c.writeRaw(protocol.EncodeArray(items...))
}

func (s *Server) recordError(errorType string) {
	if s.metrics != nil {
		s.metrics.RecordError(errorType)
	}
}

// nopLogger discards everything
type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{}) {}

func (l *nopLogger) Info(msg string, fields ...interface{}) {}

func (l *nopLogger) Error(msg string, fields ...interface{}) {}
