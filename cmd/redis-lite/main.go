package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	redislite "github.com/noah822/redis-lite"
	"github.com/noah822/redis-lite/detect"
	"github.com/noah822/redis-lite/metrics"
)

func main() {
	var port = flag.Int("port", 6379, "Port to listen on")
	var replicaOf = flag.String("replicaof", "", `Master to replicate, as "<host> <port>"`)
	var metricsAddr = flag.String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled when empty)")
	var window = flag.Int("window", detect.DefaultCapacity, "Commands remembered per connection for handshake detection")
	var helpFlag = flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *helpFlag {
		fmt.Println("redis-lite: a small Redis-compatible server with replication")
		fmt.Println("")
		fmt.Println("Usage: redis-lite [--port 6379] [--replicaof \"<host> <port>\"] [--metrics-addr :9121] [--window 6]")
		fmt.Println("")
		flag.PrintDefaults()
		os.Exit(0)
	}

	opts := []redislite.Option{
		redislite.WithAddr(":" + strconv.Itoa(*port)),
		redislite.WithWindowSize(*window),
	}

	if *replicaOf != "" {
		host, masterPort, err := parseReplicaOf(*replicaOf, flag.Args())
		if err != nil {
			log.Fatalf("Invalid --replicaof: %v", err)
		}
		opts = append(opts, redislite.WithReplicaOf(host, masterPort))
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		opts = append(opts, redislite.WithMetrics(collector))
		metricsServer = serveMetrics(*metricsAddr, reg)
	}

	node, err := redislite.New(opts...)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		// A replica that cannot reach its master has nothing to serve
		log.Fatalf("Failed to start: %v", err)
	}

	<-ctx.Done()
	log.Println("Shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if err := node.Close(); err != nil {
		log.Fatalf("Shutdown failed: %v", err)
	}
}

// parseReplicaOf reads the master address from the --replicaof value. The
// port may be inside the value ("localhost 6379") or follow it as the first
// positional argument (--replicaof localhost 6379).
func parseReplicaOf(value string, args []string) (string, int, error) {
	fields := splitFields(value)
	if len(fields) == 1 && len(args) > 0 {
		fields = append(fields, args[0])
	}
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected \"<host> <port>\", got %q", value)
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid master port %q", fields[1])
	}
	return fields[0], port, nil
}

// splitFields splits on whitespace and also accepts the host:port form
func splitFields(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 1 {
		if host, port, err := net.SplitHostPort(fields[0]); err == nil {
			return []string{host, port}
		}
	}
	return fields
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s/metrics", addr)
	return srv
}
