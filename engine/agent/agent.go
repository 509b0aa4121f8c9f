// Package agent answers natural-language questions over the loaded
// building graph. A question goes through query generation first;
// when the generated query cannot be used or returns nothing, the
// agent falls back to resolving the answer inside element property
// sets directly.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/graph"
)

// Generator is the opaque text-generation boundary: prompt in, text
// out, bounded by the context deadline. Its output is untrusted and is
// validated before execution.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GraphReader is the slice of the graph store the agent needs. The
// read path never writes.
type GraphReader interface {
	DiscoverSchema(ctx context.Context) (*graph.Schema, error)
	ReadRows(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	ElementsByName(ctx context.Context, name string, limit int) ([]graph.ElementRow, error)
	ElementsByClass(ctx context.Context, class string, limit int) ([]graph.ElementRow, error)
}

// Answer sources, in decreasing order of authority.
const (
	SourceCypher   = "cypher"   // generated query executed and returned rows
	SourceProperty = "property" // path-resolution fallback located the value
	SourceFallback = "fallback" // full property dump, unverified
)

// Answer is the agent's response to one question. Cypher carries the
// generated query text for transparency even when the fallback path
// produced the answer.
type Answer struct {
	Question   string           `json:"question"`
	Cypher     string           `json:"cypher,omitempty"`
	Rows       []map[string]any `json:"rows,omitempty"`
	Text       string           `json:"text"`
	Source     string           `json:"source"`
	Unverified bool             `json:"unverified,omitempty"`
}

const defaultGenTimeout = 30 * time.Second

// Agent holds the session state: the graph reader, the generation
// boundary, and the schema cache.
type Agent struct {
	reader    GraphReader
	cypherGen Generator
	answerGen Generator
	timeout   time.Duration
	log       *slog.Logger

	mu     sync.RWMutex
	schema *graph.Schema
}

// Option configures an Agent.
type Option func(*Agent)

// WithAnswerGenerator sets a second generator used to phrase the final
// answer from query results. Without it, rows are returned as JSON.
func WithAnswerGenerator(g Generator) Option {
	return func(a *Agent) { a.answerGen = g }
}

// WithTimeout bounds each text-generation call.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the agent's logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

func New(reader GraphReader, cypherGen Generator, opts ...Option) *Agent {
	a := &Agent{
		reader:    reader,
		cypherGen: cypherGen,
		timeout:   defaultGenTimeout,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Schema returns the discovered graph vocabulary, fetching it on first
// use and caching it for the session.
func (a *Agent) Schema(ctx context.Context) (*graph.Schema, error) {
	a.mu.RLock()
	if s := a.schema; s != nil {
		a.mu.RUnlock()
		return s, nil
	}
	a.mu.RUnlock()

	s, err := a.reader.DiscoverSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	a.mu.Lock()
	a.schema = s
	a.mu.Unlock()
	return s, nil
}

// InvalidateSchema drops the cached schema. Callers that ingest while
// querying use this to pick up new labels.
func (a *Agent) InvalidateSchema() {
	a.mu.Lock()
	a.schema = nil
	a.mu.Unlock()
}

// Ask answers one question. The generated-query path is tried first;
// any failure there degrades to property-path resolution rather than
// failing the question outright.
func (a *Agent) Ask(ctx context.Context, question string) (*Answer, error) {
	schema, err := a.Schema(ctx)
	if err != nil {
		return nil, err
	}

	cypher, genErr := a.generateCypher(ctx, schema, question)
	if genErr == nil {
		if ans, execErr := a.executeCypher(ctx, question, cypher); execErr == nil {
			return ans, nil
		} else {
			a.log.Warn("generated query failed, falling back",
				"question", question, "err", execErr)
			genErr = execErr
		}
	} else {
		a.log.Warn("query generation failed, falling back",
			"question", question, "err", genErr)
	}

	ans, fbErr := a.resolveFromProperties(ctx, question)
	if fbErr != nil {
		// Neither path produced anything: surface the more specific
		// generation/execution error when there is one.
		if genErr != nil {
			return nil, genErr
		}
		return nil, fbErr
	}
	ans.Cypher = cypher
	return ans, nil
}

func (a *Agent) generateCypher(ctx context.Context, schema *graph.Schema, question string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.cypherGen.Generate(genCtx, cypherPrompt(schema, question))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
		}
		return "", fmt.Errorf("generate query: %w", err)
	}

	cypher := CleanCypher(raw)
	if cypher == "" {
		return "", &domain.QueryExecutionError{Query: raw, Wrapped: errors.New("empty generated query")}
	}
	if err := CheckReadOnly(cypher); err != nil {
		return "", &domain.QueryExecutionError{Query: cypher, Wrapped: err}
	}
	return cypher, nil
}

func (a *Agent) executeCypher(ctx context.Context, question, cypher string) (*Answer, error) {
	rows, err := a.reader.ReadRows(ctx, cypher, nil)
	if err != nil {
		return nil, &domain.QueryExecutionError{Query: cypher, Wrapped: err}
	}
	if len(rows) == 0 {
		return nil, &domain.QueryExecutionError{Query: cypher, Wrapped: errors.New("no results")}
	}

	text, err := a.composeAnswer(ctx, question, rows)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Question: question,
		Cypher:   cypher,
		Rows:     rows,
		Text:     text,
		Source:   SourceCypher,
	}, nil
}

// composeAnswer phrases the result rows. With no answer generator
// configured the rows go back verbatim as JSON.
func (a *Agent) composeAnswer(ctx context.Context, question string, rows []map[string]any) (string, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}
	if a.answerGen == nil {
		return string(raw), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	text, err := a.answerGen.Generate(genCtx, answerPrompt(question, string(raw)))
	if err != nil {
		// The data is already in hand; a phrasing failure should not
		// lose it.
		a.log.Warn("answer composition failed, returning raw rows", "err", err)
		return string(raw), nil
	}
	return strings.TrimSpace(text), nil
}
