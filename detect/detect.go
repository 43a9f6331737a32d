// Package detect recognizes fixed sequences of commands spread over several
// requests on one connection.
//
// A Window keeps the last few commands seen on a connection, each as a
// lowercase token string such as "replconf listening-port 6380". Rules are
// ordered lists of prefix patterns; a rule matches when the newest len(rule)
// entries of the window start with its patterns in order. The replication
// handshake is recognized this way instead of threading handshake state
// through the connection handler.
//
// A client that happens to send the same sequence is indistinguishable from a
// replica and is treated as one.
package detect

import (
	"fmt"
	"strings"
)

// DefaultCapacity is the window size used when none is configured
const DefaultCapacity = 6

// Action tells the caller what to do when a rule fires
type Action int

const (
	// ActionNone is the zero Action and is never reported by Push
	ActionNone Action = iota

	// ActionRegisterReplica registers the peer as a replica and acknowledges
	// the handshake with FULLRESYNC
	ActionRegisterReplica
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionRegisterReplica:
		return "register-replica"
	default:
		return "none"
	}
}

// ReplicaHandshake is the sequence a replica sends to its master
var ReplicaHandshake = []string{"ping", "replconf listening-port", "replconf capa", "psync"}

// Rule is a registered sequence of prefix patterns
type Rule struct {
	Patterns []string
	Action   Action
}

// Match describes a fired rule
type Match struct {
	Action Action
	// Tokens are the window entries the rule consumed, oldest first
	Tokens []string
}

// Window is a bounded FIFO of recent command tokens with the rules tested
// against it. A Window belongs to a single connection and is not safe for
// concurrent use.
type Window struct {
	capacity int
	tokens   []string
	rules    []Rule
}

// NewWindow creates a window holding at most capacity entries.
// A capacity below one falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		tokens:   make([]string, 0, capacity),
	}
}

// Register adds a rule. Rules are tested in registration order. Patterns are
// compared case-insensitively.
func (w *Window) Register(action Action, patterns ...string) error {
	if action == ActionNone {
		return fmt.Errorf("rule requires an action")
	}
	if len(patterns) == 0 {
		return fmt.Errorf("rule requires at least one pattern")
	}
	if len(patterns) > w.capacity {
		return fmt.Errorf("rule of %d patterns cannot match a window of %d", len(patterns), w.capacity)
	}

	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}

	w.rules = append(w.rules, Rule{Patterns: lowered, Action: action})
	return nil
}

// Push appends the tokens of the command just received, evicting the oldest
// entry when the window is full, then tests the rules. The first matching
// rule fires: its entries are removed from the window and the match is
// returned. At most one rule fires per Push.
func (w *Window) Push(tokens string) (Match, bool) {
	if len(w.tokens) == w.capacity {
		copy(w.tokens, w.tokens[1:])
		w.tokens = w.tokens[:len(w.tokens)-1]
	}
	w.tokens = append(w.tokens, strings.ToLower(tokens))

	for _, rule := range w.rules {
		if !w.matches(rule) {
			continue
		}

		start := len(w.tokens) - len(rule.Patterns)
		matched := make([]string, len(rule.Patterns))
		copy(matched, w.tokens[start:])
		w.tokens = w.tokens[:start]

		return Match{Action: rule.Action, Tokens: matched}, true
	}

	return Match{}, false
}

// Len returns the number of entries currently in the window
func (w *Window) Len() int {
	return len(w.tokens)
}

// Tokens returns a copy of the window entries, oldest first
func (w *Window) Tokens() []string {
	return append([]string(nil), w.tokens...)
}

func (w *Window) matches(rule Rule) bool {
	n := len(rule.Patterns)
	if n > len(w.tokens) {
		return false
	}

	tail := w.tokens[len(w.tokens)-n:]
	for i, pattern := range rule.Patterns {
		if !strings.HasPrefix(tail[i], pattern) {
			return false
		}
	}
	return true
}
