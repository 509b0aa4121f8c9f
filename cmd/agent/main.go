// Command agent answers natural-language questions over an imported
// building graph. By default it runs an interactive prompt on stdin;
// with -http it serves the same capability as a small JSON API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bimgraph/bimgraph/engine/agent"
	"github.com/bimgraph/bimgraph/engine/graph"
	"github.com/bimgraph/bimgraph/pkg/llm"
	"github.com/bimgraph/bimgraph/pkg/metrics"
	"github.com/bimgraph/bimgraph/pkg/mid"
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
		httpAddr  = flag.String("http", "", "serve HTTP on this address instead of the interactive prompt (e.g. :8080)")
		question  = flag.String("q", "", "answer a single question and exit")
		noCompose = flag.Bool("no-compose", false, "skip answer phrasing, return result rows as JSON")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	cypherModel := envOr("CYPHER_MODEL", "qwen2.5-coder:7b")
	answerModel := envOr("ANSWER_MODEL", "llama3.1:8b")
	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	neo4jUser := envOr("NEO4J_USER", "neo4j")
	neo4jPass := envOr("NEO4J_PASS", "password")
	neo4jDB := envOr("NEO4J_DB", "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, err := graph.Connect(ctx, neo4jURL, neo4jUser, neo4jPass)
	if err != nil {
		logger.Error("neo4j connect failed", "err", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)

	store := graph.New(driver, logger)
	if neo4jDB != "" {
		store.Database(neo4jDB)
	}

	opts := []agent.Option{agent.WithLogger(logger)}
	if !*noCompose {
		opts = append(opts, agent.WithAnswerGenerator(llm.NewClient(ollamaURL, answerModel)))
	}
	ag := agent.New(store, llm.NewClient(ollamaURL, cypherModel), opts...)
	logger.Info("agent ready",
		"ollama", ollamaURL, "cypher_model", cypherModel, "answer_model", answerModel)

	switch {
	case *question != "":
		ans, err := ag.Ask(ctx, *question)
		if err != nil {
			logger.Error("question failed", "err", err)
			os.Exit(1)
		}
		printAnswer(ans)
	case *httpAddr != "":
		serveHTTP(ctx, *httpAddr, ag, logger)
	default:
		repl(ctx, ag)
	}
}

func repl(ctx context.Context, ag *agent.Agent) {
	fmt.Println("Ask about the building model. Commands: /schema, /refresh, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return
		case line == "/refresh":
			ag.InvalidateSchema()
			fmt.Println("schema cache cleared")
			continue
		case line == "/schema":
			s, err := ag.Schema(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("labels: %s\nrelationships: %s\n",
				strings.Join(s.Labels, ", "), strings.Join(s.RelTypes, ", "))
			continue
		}

		ans, err := ag.Ask(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Printf("error: %v\n", err)
			continue
		}
		printAnswer(ans)
	}
}

func printAnswer(ans *agent.Answer) {
	fmt.Println(ans.Text)
	if ans.Cypher != "" {
		fmt.Printf("  [query: %s]\n", ans.Cypher)
	}
	if ans.Unverified {
		fmt.Println("  [unverified: raw property dump, not a resolved value]")
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func serveHTTP(ctx context.Context, addr string, ag *agent.Agent, logger *slog.Logger) {
	questions := met.Counter("agent_questions_total", "Questions received")
	failures := met.Counter("agent_question_failures_total", "Questions with no answer from any path")
	askSeconds := met.Histogram("agent_question_seconds", "End-to-end question latency", nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
			http.Error(w, "body must be JSON with a non-empty question", http.StatusBadRequest)
			return
		}
		questions.Inc()
		start := time.Now()
		ans, err := ag.Ask(r.Context(), req.Question)
		askSeconds.Since(start)
		if err != nil {
			failures.Inc()
			logger.Error("ask failed", "question", req.Question, "err", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ans)
	})
	mux.HandleFunc("POST /api/schema/refresh", func(w http.ResponseWriter, _ *http.Request) {
		ag.InvalidateSchema()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Logger(logger),
		mid.Recover(logger),
		mid.CORS("*"),
		mid.OTel("bimgraph-agent"),
	)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("agent listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
