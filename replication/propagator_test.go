package replication

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/noah822/redis-lite/protocol"
)

// fakeReplica accepts connections and records every frame it receives
type fakeReplica struct {
	ln     net.Listener
	frames chan string
}

func newFakeReplica(t *testing.T) *fakeReplica {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	r := &fakeReplica{ln: ln, frames: make(chan string, 256)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reader := protocol.NewReader(conn)
				for {
					_, raw, err := reader.ReadFrame()
					if err != nil {
						return
					}
					r.frames <- string(raw)
					conn.Write(protocol.EncodeSimpleString("OK"))
				}
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return r
}

func (r *fakeReplica) addr() string {
	return r.ln.Addr().String()
}

func (r *fakeReplica) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.frames:
		if got != want {
			t.Fatalf("replica %s received %q, want %q", r.addr(), got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("replica %s did not receive %q", r.addr(), want)
	}
}

// deadAddr returns an address nothing listens on
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startPropagator(t *testing.T, registry *Registry, hook func(string, error)) *Propagator {
	t.Helper()
	p := NewPropagator(registry)
	p.SetDialTimeout(time.Second)
	if hook != nil {
		p.OnDeliver(hook)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func setCommand(key, value string) []byte {
	return protocol.EncodeArray("SET", key, value)
}

func TestPropagatorDeliversToRegisteredReplicas(t *testing.T) {
	registry := NewRegistry()
	p := startPropagator(t, registry, nil)

	a := newFakeReplica(t)
	registry.Insert(a.addr())

	first := setCommand("foo", "1")
	p.Enqueue(first)
	a.expect(t, string(first))

	b := newFakeReplica(t)
	registry.Insert(b.addr())

	second := setCommand("bar", "2")
	p.Enqueue(second)
	a.expect(t, string(second))
	b.expect(t, string(second))
}

func TestPropagatorSkipsUnreachableReplica(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	failures := make(map[string]int)
	p := startPropagator(t, registry, func(addr string, err error) {
		if err != nil {
			mu.Lock()
			failures[addr]++
			mu.Unlock()
		}
	})

	dead := deadAddr(t)
	b := newFakeReplica(t)
	registry.Insert(dead)
	registry.Insert(b.addr())

	msg := setCommand("k", "v")
	p.Enqueue(msg)
	b.expect(t, string(msg))

	mu.Lock()
	defer mu.Unlock()
	if failures[dead] != 1 {
		t.Errorf("failures for dead replica = %d, want 1", failures[dead])
	}
	if failures[b.addr()] != 0 {
		t.Errorf("failures for live replica = %d, want 0", failures[b.addr()])
	}
	if !registry.Contains(dead) {
		t.Error("unreachable replica was removed from the registry")
	}
}

func TestPropagatorPreservesOrder(t *testing.T) {
	registry := NewRegistry()
	a := newFakeReplica(t)
	registry.Insert(a.addr())

	p := startPropagator(t, registry, nil)

	const n = 100
	for i := 0; i < n; i++ {
		p.Enqueue(setCommand("key", strconv.Itoa(i)))
	}
	for i := 0; i < n; i++ {
		a.expect(t, string(setCommand("key", strconv.Itoa(i))))
	}
}

func TestPropagatorReusesConnection(t *testing.T) {
	registry := NewRegistry()

	var accepted int
	var mu sync.Mutex
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	frames := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			go func() {
				reader := protocol.NewReader(conn)
				for {
					_, raw, err := reader.ReadFrame()
					if err != nil {
						return
					}
					frames <- string(raw)
				}
			}()
		}
	}()

	registry.Insert(ln.Addr().String())
	p := startPropagator(t, registry, nil)

	for i := 0; i < 3; i++ {
		p.Enqueue(setCommand("k", strconv.Itoa(i)))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-frames:
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if accepted != 1 {
		t.Errorf("replica accepted %d connections, want 1", accepted)
	}
}

func TestEnqueueDoesNotBlockWithoutWorker(t *testing.T) {
	p := NewPropagator(NewRegistry())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			p.Enqueue([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked without a running worker")
	}

	if p.Pending() != 10000 {
		t.Errorf("Pending() = %d, want 10000", p.Pending())
	}
}
