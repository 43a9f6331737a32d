package redislite

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// startMaster starts a master node on a loopback port
func startMaster(t *testing.T) *Node {
	t.Helper()
	node, err := New(
		WithAddr("127.0.0.1:0"),
		WithReplicationID(testReplID),
		WithLogger(&recordingLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start master: %v", err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

// startReplica starts a replica of master and waits for its handshake
func startReplica(t *testing.T, master *Node) *Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(master.Addr())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	node, err := New(
		WithAddr("127.0.0.1:0"),
		WithReplicaOf(host, port),
		WithLogger(&recordingLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Failed to start replica: %v", err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func newClient(t *testing.T, node *Node) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:            node.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

// eventually polls GET key on client until it returns want
func eventually(t *testing.T, client *redis.Client, key, want string) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := client.Get(ctx, key).Result()
		if err == nil && got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET %s on %s = %q, %v; want %q", key, client.Options().Addr, got, err, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestE2E_ReplicaReceivesMasterID(t *testing.T) {
	master := startMaster(t)
	replica := startReplica(t, master)

	id, ok := replica.ReplicationID()
	if !ok || id != testReplID {
		t.Fatalf("replica ReplicationID() = %q, %v; want %q", id, ok, testReplID)
	}

	replicas := master.Replicas()
	if len(replicas) != 1 || replicas[0] != replica.Addr() {
		t.Fatalf("master Replicas() = %v, want [%s]", replicas, replica.Addr())
	}
}

func TestE2E_WritePropagation(t *testing.T) {
	master := startMaster(t)
	replica := startReplica(t, master)

	ctx := context.Background()
	mc := newClient(t, master)
	rc := newClient(t, replica)

	for i := 0; i < 20; i++ {
		key := "key:" + strconv.Itoa(i)
		if err := mc.Set(ctx, key, "value-"+strconv.Itoa(i), 0).Err(); err != nil {
			t.Fatalf("SET %s: %v", key, err)
		}
	}

	for i := 0; i < 20; i++ {
		eventually(t, rc, "key:"+strconv.Itoa(i), "value-"+strconv.Itoa(i))
	}

	// Later writes win on the replica as on the master
	if err := mc.Set(ctx, "key:0", "updated", 0).Err(); err != nil {
		t.Fatal(err)
	}
	eventually(t, rc, "key:0", "updated")
}

func TestE2E_MultipleReplicas(t *testing.T) {
	master := startMaster(t)
	first := startReplica(t, master)

	ctx := context.Background()
	mc := newClient(t, master)

	if err := mc.Set(ctx, "before", "1", 0).Err(); err != nil {
		t.Fatal(err)
	}
	eventually(t, newClient(t, first), "before", "1")

	second := startReplica(t, master)
	if err := mc.Set(ctx, "after", "2", 0).Err(); err != nil {
		t.Fatal(err)
	}

	for _, replica := range []*Node{first, second} {
		eventually(t, newClient(t, replica), "after", "2")
	}

	// No initial sync: the second replica never saw the earlier write
	_, err := newClient(t, second).Get(ctx, "before").Result()
	if !errors.Is(err, redis.Nil) {
		t.Errorf("second replica GET before = %v, want redis.Nil", err)
	}
}

func TestE2E_UnreachableReplicaDoesNotBlockOthers(t *testing.T) {
	master := startMaster(t)
	lost := startReplica(t, master)
	healthy := startReplica(t, master)

	lost.Close()

	ctx := context.Background()
	mc := newClient(t, master)
	if err := mc.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatal(err)
	}
	eventually(t, newClient(t, healthy), "k", "v")

	// The unreachable address stays registered
	if got := len(master.Replicas()); got != 2 {
		t.Errorf("master has %d replicas, want 2", got)
	}
}

func TestE2E_InfoReplication(t *testing.T) {
	master := startMaster(t)
	replica := startReplica(t, master)
	ctx := context.Background()

	info, err := newClient(t, master).Info(ctx, "replication").Result()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"role:master", "connected_slaves:1", "master_replid:" + testReplID} {
		if !strings.Contains(info, want) {
			t.Errorf("master INFO missing %q:\n%s", want, info)
		}
	}

	info, err = newClient(t, replica).Info(ctx, "replication").Result()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"role:slave", "master_replid:" + testReplID} {
		if !strings.Contains(info, want) {
			t.Errorf("replica INFO missing %q:\n%s", want, info)
		}
	}
}

func TestE2E_ReplicaWritesAreNotPropagated(t *testing.T) {
	master := startMaster(t)
	replica := startReplica(t, master)
	ctx := context.Background()

	if err := newClient(t, replica).Set(ctx, "local", "x", 0).Err(); err != nil {
		t.Fatal(err)
	}

	// Give a hypothetical back-propagation time to happen
	time.Sleep(100 * time.Millisecond)
	_, err := newClient(t, master).Get(ctx, "local").Result()
	if !errors.Is(err, redis.Nil) {
		t.Errorf("master GET local = %v, want redis.Nil", err)
	}
}
