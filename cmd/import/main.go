// Command import ingests a directory of IFC files into Neo4j: parse,
// extract, build, and batched idempotent load. It can also run as a
// service consuming ingestion jobs from NATS.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/bimgraph/bimgraph/engine/graph"
	"github.com/bimgraph/bimgraph/engine/ingest"
	"github.com/bimgraph/bimgraph/pkg/metrics"
)

var met = metrics.New()

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	var (
		dataDir     = flag.String("dir", "./models", "directory of IFC files to import")
		neo4jURL    = flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser   = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass   = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		neo4jDB     = flag.String("neo4j-db", envOr("NEO4J_DB", ""), "Neo4j database name (empty for the server default)")
		workers     = flag.Int("workers", 4, "files processed concurrently")
		batch       = flag.Int("batch", 500, "write operations per transaction")
		maxDepth    = flag.Int("max-depth", 8, "property nesting resolution limit")
		clearDB     = flag.Bool("clear-db", false, "remove all nodes before import")
		forceClear  = flag.Bool("force-clear", false, "skip the clear-db confirmation prompt")
		validate    = flag.Bool("validate", false, "compare loaded counts against extracted counts")
		replace     = flag.Bool("replace", false, "clear and re-import files already present in the graph")
		stats       = flag.Bool("stats", false, "print graph distributions after import")
		natsURL     = flag.String("nats", envOr("NATS_URL", ""), "NATS URL for job/status events (empty disables)")
		serve       = flag.Bool("serve", false, "stay running and consume ingestion jobs from NATS")
		metricsPort = flag.Int("metrics-port", 9092, "Prometheus metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := graph.Connect(ctx, *neo4jURL, *neo4jUser, *neo4jPass)
	if err != nil {
		logger.Error("neo4j connect failed", "err", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)
	logger.Info("connected to Neo4j", "url", *neo4jURL)

	store := graph.New(driver, logger)
	store.BatchSize(*batch)
	if *neo4jDB != "" {
		store.Database(*neo4jDB)
	}

	if *clearDB {
		if !*forceClear && !confirmClear(*neo4jURL) {
			logger.Info("clear aborted")
			os.Exit(0)
		}
		if err := store.ClearAll(ctx); err != nil {
			logger.Error("clear failed", "err", err)
			os.Exit(1)
		}
		logger.Info("database cleared")
	}

	opts := []ingest.PipelineOption{
		ingest.WithWorkers(*workers),
		ingest.WithValidation(*validate),
		ingest.WithReplace(*replace),
		ingest.WithMaxPropertyDepth(*maxDepth),
		ingest.WithMetrics(met),
	}

	var nc *nats.Conn
	if *natsURL != "" {
		nc, err = nats.Connect(*natsURL, nats.Name("bimgraph-import"))
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		opts = append(opts, ingest.WithNotifier(ingest.NATSNotifier(nc, logger)))
		logger.Info("publishing status events", "subject", ingest.SubjectStatus)
	}

	pipeline := ingest.NewPipeline(store, logger, opts...)

	if *serve {
		if nc == nil {
			logger.Error("-serve requires -nats")
			os.Exit(1)
		}
		sub, err := ingest.SubscribeJobs(nc, pipeline, logger)
		if err != nil {
			logger.Error("job subscribe failed", "err", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
		logger.Info("waiting for ingestion jobs", "subject", ingest.SubjectJobs)
		<-ctx.Done()
		return
	}

	report, err := pipeline.RunDir(ctx, *dataDir)
	if err != nil {
		logger.Error("run failed", "dir", *dataDir, "err", err)
		os.Exit(1)
	}
	logger.Info("import finished", "summary", report.Summary())
	for _, res := range report.Results {
		if res.Status == ingest.StatusFailed {
			logger.Error("file failed", "file", res.Path, "err", res.Err)
		}
	}

	if *stats {
		printStats(ctx, store, logger)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

// confirmClear asks on stdin before destroying data.
func confirmClear(target string) bool {
	fmt.Printf("This deletes ALL data in %s. Type 'yes' to continue: ", target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

func printStats(ctx context.Context, store *graph.Store, logger *slog.Logger) {
	nodes, err := store.NodeCounts(ctx)
	if err != nil {
		logger.Error("node counts failed", "err", err)
		return
	}
	rels, err := store.RelationshipCounts(ctx)
	if err != nil {
		logger.Error("relationship counts failed", "err", err)
		return
	}
	classes, err := store.ClassCounts(ctx)
	if err != nil {
		logger.Error("class counts failed", "err", err)
		return
	}

	fmt.Println("\nNode counts by label:")
	for label, n := range nodes {
		fmt.Printf("  %-24s %d\n", label, n)
	}
	fmt.Println("Relationship counts by type:")
	for typ, n := range rels {
		fmt.Printf("  %-24s %d\n", typ, n)
	}
	fmt.Println("Element counts by IFC class:")
	for class, n := range classes {
		fmt.Printf("  %-24s %d\n", class, n)
	}
}
