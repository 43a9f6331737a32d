package replication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/noah822/redis-lite/protocol"
)

// Handshake steps, in the order they are performed
const (
	StepConnect       = "connect"
	StepPing          = "ping"
	StepListeningPort = "replconf-listening-port"
	StepCapa          = "replconf-capa"
	StepPSync         = "psync"
)

// ErrUnexpectedReply indicates the master answered PSYNC with something other
// than a FULLRESYNC reply
var ErrUnexpectedReply = errors.New("unexpected reply")

// HandshakeError reports the handshake step that failed
type HandshakeError struct {
	Step string
	Err  error
}

// Error implements the error interface
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed at %s: %v", e.Step, e.Err)
}

// Unwrap returns the wrapped error
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Handshaker performs the replica side of the replication handshake:
//
//	PING
//	REPLCONF listening-port <port>
//	REPLCONF capa eof capa psync2
//	PSYNC -1 ?
//
// Replies to the first three steps are read and ignored. The PSYNC reply
// carries the master's replication id.
type Handshaker struct {
	masterAddr    string
	listeningPort string

	dialTimeout time.Duration
	logger      Logger
	metrics     MetricsCollector
}

// NewHandshaker creates a handshaker for the master at masterAddr. The
// replica announces listeningPort as the port it accepts propagated writes on.
func NewHandshaker(masterAddr, listeningPort string) *Handshaker {
	return &Handshaker{
		masterAddr:    masterAddr,
		listeningPort: listeningPort,
		dialTimeout:   5 * time.Second,
		logger:        &defaultLogger{},
	}
}

// SetLogger sets the logger
func (h *Handshaker) SetLogger(logger Logger) {
	h.logger = logger
}

// SetMetrics sets the metrics collector
func (h *Handshaker) SetMetrics(metrics MetricsCollector) {
	h.metrics = metrics
}

// SetDialTimeout bounds connecting to the master. Zero means no limit.
func (h *Handshaker) SetDialTimeout(timeout time.Duration) {
	h.dialTimeout = timeout
}

// Run connects to the master, performs the handshake and returns the
// replication id the master assigned. The connection is closed afterwards;
// the master delivers propagated writes to the announced listening port.
//
// Any failure is returned as a *HandshakeError.
func (h *Handshaker) Run(ctx context.Context) (string, error) {
	start := time.Now()
	h.logger.Info("Starting replication handshake", "master", h.masterAddr)

	dialer := &net.Dialer{Timeout: h.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", h.masterAddr)
	if err != nil {
		return "", h.fail(StepConnect, err)
	}
	defer conn.Close()

	// Unblock reads and writes if the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	steps := []struct {
		name string
		args []string
	}{
		{StepPing, []string{"PING"}},
		{StepListeningPort, []string{"REPLCONF", "listening-port", h.listeningPort}},
		{StepCapa, []string{"REPLCONF", "capa", "eof", "capa", "psync2"}},
		{StepPSync, []string{"PSYNC", "-1", "?"}},
	}

	var reply protocol.Value
	for _, step := range steps {
		if err := writer.WriteCommand(step.args[0], step.args[1:]...); err != nil {
			return "", h.fail(step.name, err)
		}
		if err := writer.Flush(); err != nil {
			return "", h.fail(step.name, err)
		}

		reply, err = reader.ReadNext()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return "", h.fail(step.name, err)
		}
		h.logger.Debug("Handshake step completed", "step", step.name, "reply", reply.String())
	}

	replID, err := ParseFullResync(reply)
	if err != nil {
		return "", h.fail(StepPSync, err)
	}

	if h.metrics != nil {
		h.metrics.RecordHandshake(time.Since(start))
	}
	h.logger.Info("Replication handshake completed", "master", h.masterAddr, "replid", replID)

	return replID, nil
}

// Handshake performs the replica handshake against masterAddr with default
// settings and returns the master's replication id
func Handshake(ctx context.Context, masterAddr, listeningPort string) (string, error) {
	return NewHandshaker(masterAddr, listeningPort).Run(ctx)
}

func (h *Handshaker) fail(step string, err error) error {
	if h.metrics != nil {
		h.metrics.RecordError("handshake")
	}
	h.logger.Error("Replication handshake failed", "master", h.masterAddr, "step", step, "error", err)
	return &HandshakeError{Step: step, Err: err}
}

// ParseFullResync extracts the replication id from a PSYNC reply.
//
// The master replies with the array ["+FULLRESYNC", <id>, <offset>]; the
// single simple string "FULLRESYNC <id> <offset>" is accepted as well.
func ParseFullResync(reply protocol.Value) (string, error) {
	var parts []string

	switch reply.Type {
	case protocol.TypeArray:
		for _, item := range reply.Array {
			if item.Type == protocol.TypeArray || item.IsNull {
				return "", fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.String())
			}
			parts = append(parts, item.String())
		}
	case protocol.TypeSimpleString, protocol.TypeBulkString:
		parts = strings.Fields(reply.String())
	default:
		return "", fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.String())
	}

	if len(parts) < 2 || !strings.EqualFold(strings.TrimPrefix(parts[0], "+"), "FULLRESYNC") {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.String())
	}
	if parts[1] == "" {
		return "", fmt.Errorf("%w: empty replication id", ErrUnexpectedReply)
	}

	return parts[1], nil
}
