package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/noah822/redis-lite/detect"
	"github.com/noah822/redis-lite/protocol"
	"github.com/noah822/redis-lite/replication"
)

// knownCommands are the command names routed by executeCommand
var knownCommands = map[string]struct{}{
	"PING": {}, "ECHO": {}, "GET": {}, "SET": {}, "INFO": {},
	"REPLCONF": {}, "PSYNC": {}, "QUIT": {},
}

// commandLabel maps a command name onto a fixed set for metrics, so clients
// cannot create arbitrary label values
func commandLabel(name string) string {
	if _, ok := knownCommands[name]; ok {
		return name
	}
	return "unknown"
}

// isWriteCommand reports whether a command mutates the keyspace and must be
// propagated to replicas
func isWriteCommand(name string) bool {
	switch name {
	case "SET":
		return true
	}
	return false
}

// executeCommand routes a command that did not complete a window rule.
// raw is the exact request frame as received.
func (c *Client) executeCommand(cmd *protocol.Command, raw []byte) {
	switch cmd.Name {
	case "PING":
		c.handlePing(cmd)
	case "ECHO":
		c.handleEcho(cmd)
	case "GET":
		c.handleGet(cmd)
	case "SET":
		c.handleSet(cmd, raw)
	case "INFO":
		c.handleInfo(cmd)
	case "REPLCONF":
		c.writeString("OK")
	case "PSYNC":
		c.handlePSync(cmd)
	case "QUIT":
		c.writeString("OK")
		c.Close()
	default:
		c.server.recordError("unknown_command")
		c.writeError(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd.Name)))
	}
}

// fire executes the action of a matched window rule
func (c *Client) fire(match detect.Match) {
	switch match.Action {
	case detect.ActionRegisterReplica:
		c.registerReplica(match)
	default:
		c.writeError(fmt.Sprintf("ERR unsupported action %s", match.Action))
	}
}

// registerReplica records the peer as a replica listening on the port it
// announced during the handshake, then acknowledges with FULLRESYNC
func (c *Client) registerReplica(match detect.Match) {
	port, err := announcedPort(match.Tokens)
	if err != nil {
		c.server.recordError("handshake")
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		c.server.recordError("handshake")
		c.writeError(fmt.Sprintf("ERR cannot determine replica address: %v", err))
		return
	}

	addr := net.JoinHostPort(host, port)
	if c.server.registry.Insert(addr) {
		c.server.logger.Info("Replica registered", "addr", addr)
	} else {
		c.server.logger.Debug("Replica already registered", "addr", addr)
	}
	if m := c.server.metrics; m != nil {
		m.RecordReplicaCount(c.server.registry.Len())
	}

	c.writeFullResync()
}

// announcedPort extracts the port from the "replconf listening-port <port>"
// entry of a handshake match
func announcedPort(tokens []string) (string, error) {
	for _, t := range tokens {
		fields := strings.Fields(t)
		if len(fields) < 2 || fields[0] != "replconf" || fields[1] != "listening-port" {
			continue
		}
		if len(fields) != 3 {
			return "", fmt.Errorf("invalid listening-port %q", t)
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("invalid listening-port %q", fields[2])
		}
		return fields[2], nil
	}
	return "", fmt.Errorf("handshake did not announce a listening port")
}

func (c *Client) writeFullResync() {
	id, _ := c.server.replID.Get()
	c.writeArray("+FULLRESYNC", id, "0")
}

func (c *Client) handlePing(cmd *protocol.Command) {
	switch len(cmd.Args) {
	case 0:
		c.writeString("PONG")
	case 1:
		c.writeBulkString(cmd.Args[0])
	default:
		c.writeError("ERR wrong number of arguments for 'ping' command")
	}
}

func (c *Client) handleEcho(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'echo' command")
		return
	}
	c.writeBulkString(cmd.Args[0])
}

func (c *Client) handleGet(cmd *protocol.Command) {
	if len(cmd.Args) != 1 {
		c.writeError("ERR wrong number of arguments for 'get' command")
		return
	}

	value, exists := c.server.storage.Get(string(cmd.Args[0]))
	if !exists {
		c.writeNull()
		return
	}
	c.writeBulkString(value)
}

func (c *Client) handleSet(cmd *protocol.Command, raw []byte) {
	if len(cmd.Args) != 2 {
		c.writeError("ERR wrong number of arguments for 'set' command")
		return
	}

	if err := c.server.applyWrite(cmd, raw); err != nil {
		c.server.recordError("storage")
		c.writeError(fmt.Sprintf("ERR %v", err))
		return
	}

	c.writeString("OK")
}

// applyWrite stores a SET and queues it for propagation under one lock, so
// replicas receive writes in the order the master applied them
func (s *Server) applyWrite(cmd *protocol.Command, raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.storage.Set(string(cmd.Args[0]), cmd.Args[1]); err != nil {
		return err
	}
	if isWriteCommand(cmd.Name) && s.propagator != nil {
		s.propagator.Enqueue(raw)
	}
	return nil
}

func (c *Client) handleInfo(cmd *protocol.Command) {
	if len(cmd.Args) > 1 {
		c.writeError("ERR syntax error")
		return
	}
	if len(cmd.Args) == 1 {
		section := strings.ToLower(string(cmd.Args[0]))
		if section != "replication" && section != "all" && section != "default" {
			c.writeBulkString(nil)
			return
		}
	}
	c.writeBulkString([]byte(c.server.replicationInfo()))
}

func (c *Client) handlePSync(cmd *protocol.Command) {
	if c.server.role != replication.RoleMaster {
		c.writeError("ERR replica cannot serve PSYNC")
		return
	}
	// Acknowledged but not registered: only a complete handshake registers
	c.writeFullResync()
}

// replicationInfo renders the INFO replication section
func (s *Server) replicationInfo() string {
	var b strings.Builder
	b.WriteString("# Replication\r\n")
	fmt.Fprintf(&b, "role:%s\r\n", s.role)

	if s.role == replication.RoleReplica {
		host, port, err := net.SplitHostPort(s.masterAddr)
		if err == nil {
			fmt.Fprintf(&b, "master_host:%s\r\nmaster_port:%s\r\n", host, port)
		}
	} else if s.registry != nil {
		fmt.Fprintf(&b, "connected_slaves:%d\r\n", s.registry.Len())
	}

	id, _ := s.replID.Get()
	fmt.Fprintf(&b, "master_replid:%s\r\n", id)
	b.WriteString("master_repl_offset:0\r\n")
	return b.String()
}
