package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	redislite "github.com/noah822/redis-lite"
	"github.com/noah822/redis-lite/metrics"
	"github.com/noah822/redis-lite/replication"
	"github.com/noah822/redis-lite/server"
)

var (
	_ redislite.MetricsCollector   = (*metrics.Collector)(nil)
	_ server.MetricsCollector      = (*metrics.Collector)(nil)
	_ replication.MetricsCollector = (*metrics.Collector)(nil)
)

func newCollector(t *testing.T) (*metrics.Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c, reg
}

func TestCollectorRecordsActivity(t *testing.T) {
	c, reg := newCollector(t)

	c.RecordCommandProcessed("SET", time.Millisecond)
	c.RecordCommandProcessed("SET", time.Millisecond)
	c.RecordCommandProcessed("GET", time.Millisecond)
	c.RecordNetworkBytes(31)
	c.RecordNetworkBytes(11)
	c.RecordHandshake(20 * time.Millisecond)
	c.RecordReplicaCount(2)
	c.RecordPropagation(true)
	c.RecordPropagation(true)
	c.RecordPropagation(false)
	c.RecordQueueDepth(5)
	c.RecordQueueDepth(3)
	c.RecordError("propagation")

	expected := `
# HELP redislite_commands_total Commands processed, by command name.
# TYPE redislite_commands_total counter
redislite_commands_total{cmd="GET"} 1
redislite_commands_total{cmd="SET"} 2
# HELP redislite_errors_total Errors, by type.
# TYPE redislite_errors_total counter
redislite_errors_total{type="propagation"} 1
# HELP redislite_network_received_bytes_total Request bytes received from clients.
# TYPE redislite_network_received_bytes_total counter
redislite_network_received_bytes_total 42
# HELP redislite_propagation_queue_depth Writes waiting to be propagated.
# TYPE redislite_propagation_queue_depth gauge
redislite_propagation_queue_depth 3
# HELP redislite_propagations_total Write deliveries to replicas, by result.
# TYPE redislite_propagations_total counter
redislite_propagations_total{result="delivered"} 2
redislite_propagations_total{result="failed"} 1
# HELP redislite_replicas Registered replicas.
# TYPE redislite_replicas gauge
redislite_replicas 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"redislite_commands_total",
		"redislite_errors_total",
		"redislite_network_received_bytes_total",
		"redislite_propagation_queue_depth",
		"redislite_propagations_total",
		"redislite_replicas",
	)
	if err != nil {
		t.Fatal(err)
	}

	if n, err := testutil.GatherAndCount(reg, "redislite_handshake_duration_seconds"); err != nil || n != 1 {
		t.Errorf("handshake histogram series = %d, %v; want 1", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "redislite_command_duration_seconds"); err != nil || n != 2 {
		t.Errorf("command duration series = %d, %v; want 2", n, err)
	}
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := metrics.NewCollector(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := metrics.NewCollector(reg); err == nil {
		t.Fatal("expected error registering the same metrics twice")
	}
}

func TestHandler(t *testing.T) {
	c, reg := newCollector(t)
	c.RecordReplicaCount(1)

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "redislite_replicas 1") {
		t.Errorf("metrics output missing replica gauge:\n%s", body)
	}
}
