// Package graph persists the building model in Neo4j and exposes the
// read operations the query agent needs. All database access goes
// through the SessionOpener seam so the store can be exercised without
// a live server.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/model"
	"github.com/bimgraph/bimgraph/pkg/fn"
	"github.com/bimgraph/bimgraph/pkg/resilience"
)

// CypherResult is the minimal read surface of a neo4j result.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs a single parameterized statement. Both sessions and
// managed transactions satisfy it.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is the minimal session surface used by the store.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions. The production implementation wraps a
// neo4j driver; tests substitute fakes.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

const defaultBatchSize = 500

// Store is the Neo4j-backed persistence layer for the building graph.
type Store struct {
	opener  SessionOpener
	log     *slog.Logger
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	batch   int
}

// New creates a Store over a neo4j driver.
func New(driver neo4j.DriverWithContext, log *slog.Logger) *Store {
	return NewWithOpener(&driverOpener{driver: driver}, log)
}

// Database selects a named database for new sessions. The driver default
// is used when unset.
func (s *Store) Database(name string) {
	if o, ok := s.opener.(*driverOpener); ok {
		o.database = name
	}
}

// NewWithOpener creates a Store over an explicit session opener.
func NewWithOpener(opener SessionOpener, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		opener:  opener,
		log:     log,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry:   fn.DefaultRetry,
		batch:   defaultBatchSize,
	}
}

// BatchSize overrides the number of write ops committed per transaction.
func (s *Store) BatchSize(n int) {
	if n > 0 {
		s.batch = n
	}
}

// RetryOpts overrides the per-batch retry policy.
func (s *Store) RetryOpts(opts fn.RetryOpts) {
	s.retry = opts
}

// LoadOps writes the ops in order, committing batch-sized chunks in
// managed transactions. A transiently failed batch is retried with
// backoff; errors the server classifies as permanent abort at once. A
// batch that fails for good fails the whole load with the batch index
// attached.
func (s *Store) LoadOps(ctx context.Context, file string, ops []model.WriteOp) error {
	retry := s.retry
	if retry.RetryIf == nil {
		retry.RetryIf = retryableWrite
	}
	batches := fn.Chunk(ops, s.batch)
	for i, batch := range batches {
		res := resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[struct{}] {
			return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[struct{}] {
				if err := s.writeBatch(ctx, batch); err != nil {
					return fn.Err[struct{}](err)
				}
				return fn.Ok(struct{}{})
			})
		})
		if _, err := res.Unwrap(); err != nil {
			return &domain.LoadError{File: file, Batch: i, Wrapped: err}
		}
		s.log.Debug("batch committed", "file", file,
			"batch", i+1, "of", len(batches), "ops", len(batch))
	}
	return nil
}

// retryableWrite treats connectivity hiccups as transient but gives up
// immediately on errors the server classifies as permanent, such as a
// malformed statement. Errors that never reached the server stay
// retryable.
func retryableWrite(err error) bool {
	var srvErr *db.Neo4jError
	if errors.As(err, &srvErr) {
		return neo4j.IsRetryable(err)
	}
	return true
}

func (s *Store) writeBatch(ctx context.Context, ops []model.WriteOp) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		for _, op := range ops {
			if _, err := tx.Run(ctx, op.Cypher, op.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// ReadRows runs a read statement and materializes every row as a map
// keyed by the result columns.
func (s *Store) ReadRows(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			v, _ := rec.Get(key)
			row[key] = v
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// --- driver adapters ---

type driverOpener struct {
	driver   neo4j.DriverWithContext
	database string
}

func (o *driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.database})}
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := a.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &resultAdapter{res: res}, nil
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txAdapter{tx: tx})
	})
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (a *txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := a.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &resultAdapter{res: res}, nil
}

type resultAdapter struct {
	res neo4j.ResultWithContext
}

func (r *resultAdapter) Next(ctx context.Context) bool { return r.res.Next(ctx) }
func (r *resultAdapter) Record() *neo4j.Record         { return r.res.Record() }
func (r *resultAdapter) Err() error                    { return r.res.Err() }

// Connect builds a driver from connection settings and verifies it.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}
	return driver, nil
}
