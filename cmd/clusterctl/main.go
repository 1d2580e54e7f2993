package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/akarpov/crmsync/internal/cluster"
	"github.com/akarpov/crmsync/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	nodesFlag := flag.String("nodes", "", "Comma-separated node addresses, first is the coordinator")
	shards := flag.Int("shards", 1, "Number of shards")
	replicas := flag.Int("replicas", 1, "Number of replicas per shard")
	token := flag.String("token", "", "Access token (or CRMSYNC_TOKEN env var)")
	collection := flag.String("collection", "", "Collection to create after bootstrap (optional)")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *nodesFlag == "" {
		fmt.Fprintln(os.Stderr, "Usage: clusterctl -nodes host1:8080,host2:8080,... [-shards N] [-replicas N] [-collection NAME]")
		os.Exit(2)
	}

	nodes := splitNodes(*nodesFlag)

	accessToken := *token
	if accessToken == "" {
		accessToken = os.Getenv("CRMSYNC_TOKEN")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, err := cluster.New(
		cluster.NewHTTPNodeAPI(accessToken),
		nodes,
		api.ShardConfig{Shards: *shards, Replicas: *replicas},
		logger,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(ctx, coord, *collection); err != nil {
		printStates(coord)

		var quorumErr *cluster.QuorumError
		if errors.As(err, &quorumErr) {
			fmt.Fprintf(os.Stderr, "Bootstrap aborted before any topology change: %v\n", quorumErr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	printStates(coord)
}

func run(ctx context.Context, coord *cluster.Coordinator, collection string) error {
	if err := coord.Bootstrap(ctx); err != nil {
		return err
	}

	report, err := coord.Verify(ctx)
	if err != nil {
		return err
	}
	if !report.Quorate {
		return fmt.Errorf("cluster is not quorate: %s", report.Warning)
	}
	fmt.Printf("Cluster quorate: %d node(s) joined\n", len(report.Joined))

	if collection != "" {
		if err := coord.EnsureCollection(ctx, collection); err != nil {
			return err
		}
		fmt.Printf("Collection %q ready\n", collection)
	}

	return nil
}

func splitNodes(raw string) []string {
	var nodes []string
	for _, part := range strings.Split(raw, ",") {
		if node := strings.TrimSpace(part); node != "" {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func printStates(coord *cluster.Coordinator) {
	states := coord.States()

	nodes := make([]string, 0, len(states))
	for node := range states {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	fmt.Println("Node states:")
	for _, node := range nodes {
		fmt.Printf("  %-30s %s\n", node, states[node])
	}
}

func printVersion() {
	fmt.Printf("crmsync Cluster Control\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
