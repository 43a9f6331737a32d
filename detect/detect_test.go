package detect

import (
	"reflect"
	"testing"
)

var handshakeTokens = []string{
	"ping",
	"replconf listening-port 6380",
	"replconf capa eof capa psync2",
	"psync -1 ?",
}

func newHandshakeWindow(t *testing.T, capacity int, patterns ...string) *Window {
	t.Helper()
	w := NewWindow(capacity)
	if err := w.Register(ActionRegisterReplica, patterns...); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return w
}

func TestPushFiresOnLastStep(t *testing.T) {
	w := newHandshakeWindow(t, 6, "ping", "replconf", "replconf", "psync")

	for i, tok := range handshakeTokens {
		match, fired := w.Push(tok)
		last := i == len(handshakeTokens)-1

		if fired != last {
			t.Fatalf("push %d (%q): fired = %v, want %v", i, tok, fired, last)
		}
		if !last {
			continue
		}

		if match.Action != ActionRegisterReplica {
			t.Errorf("Action = %v, want %v", match.Action, ActionRegisterReplica)
		}
		if !reflect.DeepEqual(match.Tokens, handshakeTokens) {
			t.Errorf("Tokens = %q, want %q", match.Tokens, handshakeTokens)
		}
	}

	if w.Len() != 0 {
		t.Errorf("Len() = %d after match, want 0", w.Len())
	}
}

func TestPushFiresExactlyOnce(t *testing.T) {
	w := newHandshakeWindow(t, 6, ReplicaHandshake...)

	fired := 0
	for _, tok := range append([]string{"get foo", "set a b"}, handshakeTokens...) {
		if _, ok := w.Push(tok); ok {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("rule fired %d times, want 1", fired)
	}

	// Only the matched entries are rolled back
	if got := w.Tokens(); !reflect.DeepEqual(got, []string{"get foo", "set a b"}) {
		t.Errorf("Tokens() = %q, want the two unrelated commands", got)
	}

	// Pushing psync again must not re-fire with the consumed entries
	if _, ok := w.Push("psync -1 ?"); ok {
		t.Error("rule fired again without a fresh handshake")
	}
}

func TestInterleavedCommandPreventsMatch(t *testing.T) {
	tokens := []string{
		"ping",
		"replconf listening-port 6380",
		"get foo",
		"replconf capa eof capa psync2",
		"psync -1 ?",
	}

	w := newHandshakeWindow(t, 6, "ping", "replconf", "replconf", "psync")
	for _, tok := range tokens {
		if _, ok := w.Push(tok); ok {
			t.Fatalf("rule fired on %q despite interleaved command", tok)
		}
	}
}

func TestPrefixMatchIsCaseInsensitive(t *testing.T) {
	w := newHandshakeWindow(t, 6, "PING", "REPLCONF LISTENING-PORT", "REPLCONF CAPA", "PSYNC")

	var fired bool
	for _, tok := range []string{"PING", "REPLCONF listening-port 7000", "replconf CAPA psync2", "PSYNC ? -1"} {
		_, fired = w.Push(tok)
	}
	if !fired {
		t.Error("rule did not fire for mixed-case handshake")
	}
}

func TestPatternMustBePrefix(t *testing.T) {
	w := newHandshakeWindow(t, 6, ReplicaHandshake...)

	// listening-port pattern does not prefix "replconf capa ..."
	for _, tok := range []string{"ping", "replconf capa eof", "replconf capa psync2", "psync -1 ?"} {
		if _, ok := w.Push(tok); ok {
			t.Fatalf("rule fired on %q", tok)
		}
	}
}

func TestEviction(t *testing.T) {
	w := NewWindow(3)
	for _, tok := range []string{"a", "b", "c", "d", "e"} {
		w.Push(tok)
	}
	if got := w.Tokens(); !reflect.DeepEqual(got, []string{"c", "d", "e"}) {
		t.Errorf("Tokens() = %q, want [c d e]", got)
	}
}

func TestHandshakeSurvivesFullWindow(t *testing.T) {
	w := newHandshakeWindow(t, 4, ReplicaHandshake...)
	for _, tok := range []string{"get a", "get b", "get c", "get d"} {
		w.Push(tok)
	}

	var fired bool
	for _, tok := range handshakeTokens {
		_, fired = w.Push(tok)
	}
	if !fired {
		t.Error("handshake not recognized after window filled with other commands")
	}
}

func TestRegistrationOrderIsPriority(t *testing.T) {
	const other Action = 99

	w := NewWindow(6)
	if err := w.Register(other, "psync"); err != nil {
		t.Fatal(err)
	}
	if err := w.Register(ActionRegisterReplica, ReplicaHandshake...); err != nil {
		t.Fatal(err)
	}

	var match Match
	for _, tok := range handshakeTokens {
		match, _ = w.Push(tok)
	}
	if match.Action != other {
		t.Errorf("Action = %v, want the first registered rule", match.Action)
	}
	if len(match.Tokens) != 1 {
		t.Errorf("matched %d tokens, want 1", len(match.Tokens))
	}
	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3", w.Len())
	}
}

func TestRegisterValidation(t *testing.T) {
	w := NewWindow(3)

	tests := []struct {
		name     string
		action   Action
		patterns []string
	}{
		{"no action", ActionNone, []string{"ping"}},
		{"no patterns", ActionRegisterReplica, nil},
		{"longer than window", ActionRegisterReplica, ReplicaHandshake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.Register(tt.action, tt.patterns...); err == nil {
				t.Error("Register() expected error")
			}
		})
	}
}
