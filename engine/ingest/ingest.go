// Package ingest drives the per-file pipeline: parse, extract, build,
// load. Files move through a fixed state machine and a failure in one
// file never stops the rest of a batch run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/extract"
	"github.com/bimgraph/bimgraph/engine/model"
	"github.com/bimgraph/bimgraph/engine/step"
	"github.com/bimgraph/bimgraph/pkg/fn"
	"github.com/bimgraph/bimgraph/pkg/metrics"
)

// Status is a file's position in the ingestion state machine. No
// transition skips a stage; Failed is terminal for the file only.
// Skipped is the short circuit for files already present in the graph.
type Status string

const (
	StatusPending    Status = "pending"
	StatusParsing    Status = "parsing"
	StatusExtracting Status = "extracting"
	StatusLoading    Status = "loading"
	StatusLoaded     Status = "loaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Store is the slice of the graph layer the pipeline writes through.
type Store interface {
	EnsureConstraints(ctx context.Context) error
	HasFile(ctx context.Context, fileID string) (bool, error)
	ClearFile(ctx context.Context, fileID string) error
	LoadOps(ctx context.Context, file string, ops []model.WriteOp) error
	Validate(ctx context.Context, fileID string, wantElements, wantRels int) ([]domain.ValidationMismatch, error)
}

// StatusEvent is emitted on every state transition, for observers such
// as the NATS status stream.
type StatusEvent struct {
	FileID string `json:"fileId,omitempty"`
	Path   string `json:"path"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// FileResult is the outcome of one file's pipeline run.
type FileResult struct {
	Path       string
	FileID     string
	Schema     string
	Status     Status
	Stats      extract.Stats
	Mismatches []domain.ValidationMismatch
	Err        error
	Elapsed    time.Duration
}

// Pipeline runs files through parse, extract, build, and load.
type Pipeline struct {
	store    Store
	log      *slog.Logger
	workers  int
	maxDepth int
	validate bool
	replace  bool
	notify   func(context.Context, StatusEvent)

	filesLoaded  *metrics.Counter
	filesFailed  *metrics.Counter
	filesSkipped *metrics.Counter
	elements     *metrics.Counter
	rels         *metrics.Counter
	orphans      *metrics.Counter
	fileSeconds  *metrics.Histogram
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithWorkers bounds how many files are processed concurrently.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithValidation enables the post-load count comparison per file.
func WithValidation(on bool) PipelineOption {
	return func(p *Pipeline) { p.validate = on }
}

// WithMaxPropertyDepth bounds recursive property resolution.
func WithMaxPropertyDepth(d int) PipelineOption {
	return func(p *Pipeline) { p.maxDepth = d }
}

// WithReplace clears a file's previous import before loading it again.
// Without it, files already present in the graph are skipped.
func WithReplace(on bool) PipelineOption {
	return func(p *Pipeline) { p.replace = on }
}

// WithNotifier registers an observer for state transitions.
func WithNotifier(f func(context.Context, StatusEvent)) PipelineOption {
	return func(p *Pipeline) { p.notify = f }
}

// WithMetrics registers pipeline counters on the given registry.
func WithMetrics(reg *metrics.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.filesLoaded = reg.Counter("bim_files_loaded_total", "Files fully loaded into the graph")
		p.filesFailed = reg.Counter("bim_files_failed_total", "Files that failed ingestion")
		p.filesSkipped = reg.Counter("bim_files_skipped_total", "Files skipped because already imported")
		p.elements = reg.Counter("bim_elements_total", "Elements written to the graph")
		p.rels = reg.Counter("bim_relationships_total", "Relationships written to the graph")
		p.orphans = reg.Counter("bim_orphan_relationships_total", "Relationships dropped for missing endpoints")
		p.fileSeconds = reg.Histogram("bim_file_seconds", "Per-file ingestion duration", nil)
	}
}

func NewPipeline(store Store, log *slog.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{store: store, log: log, workers: 4}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FileID derives the stable file identifier used as the File node key:
// the file's base name without extension plus its modification time.
// Re-importing an unchanged file maps to the same id.
func FileID(path string, modTime time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return fmt.Sprintf("FILE_%s_%d", stem, modTime.Unix())
}

// fileState is the value threaded through the pipeline stages. skip is
// set when the file is already in the graph; later stages pass it on
// untouched.
type fileState struct {
	path      string
	info      domain.FileInfo
	reader    *step.Reader
	extracted *extract.Result
	ops       []model.WriteOp
	skip      bool
}

// ProcessFile runs one file through the full state machine. Errors are
// captured in the result, not returned: the caller decides what a
// failure means for the batch.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) FileResult {
	start := time.Now()
	res := FileResult{Path: path, Status: StatusPending}
	p.transition(ctx, &res)

	run := fn.Pipeline(
		fn.TracedStage("ingest.parse", p.parseStage(&res)),
		fn.TracedStage("ingest.extract", p.extractStage(&res)),
		fn.TracedStage("ingest.load", p.loadStage(&res)),
	)
	st := &fileState{path: path}
	if _, err := run(ctx, st).Unwrap(); err != nil {
		res.Status = StatusFailed
		res.Err = err
		p.transition(ctx, &res)
		if p.filesFailed != nil {
			p.filesFailed.Inc()
		}
	} else if st.skip {
		res.Status = StatusSkipped
		p.transition(ctx, &res)
		if p.filesSkipped != nil {
			p.filesSkipped.Inc()
		}
	} else {
		res.Status = StatusLoaded
		p.transition(ctx, &res)
		p.count(res.Stats)
	}
	res.Elapsed = time.Since(start)
	if p.fileSeconds != nil {
		p.fileSeconds.Since(start)
	}
	return res
}

func (p *Pipeline) parseStage(res *FileResult) fn.Stage[*fileState, *fileState] {
	return func(ctx context.Context, st *fileState) fn.Result[*fileState] {
		res.Status = StatusParsing
		p.transition(ctx, res)

		info, err := fileInfo(st.path)
		if err != nil {
			return fn.Err[*fileState](err)
		}
		st.info = info
		res.FileID = info.FileID

		has, err := p.store.HasFile(ctx, info.FileID)
		if err != nil {
			return fn.Err[*fileState](fmt.Errorf("check existing import: %w", err))
		}
		if has {
			if !p.replace {
				st.skip = true
				return fn.Ok(st)
			}
			if err := p.store.ClearFile(ctx, info.FileID); err != nil {
				return fn.Err[*fileState](fmt.Errorf("clear previous import: %w", err))
			}
		}

		reader, err := step.Open(st.path)
		if err != nil {
			return fn.Err[*fileState](err)
		}
		info.Schema = reader.Schema()
		st.info = info
		st.reader = reader
		res.Schema = info.Schema
		return fn.Ok(st)
	}
}

func (p *Pipeline) extractStage(res *FileResult) fn.Stage[*fileState, *fileState] {
	return func(ctx context.Context, st *fileState) fn.Result[*fileState] {
		if st.skip {
			return fn.Ok(st)
		}
		res.Status = StatusExtracting
		p.transition(ctx, res)
		defer st.reader.Close()

		x := extract.New(st.info.FileID, p.log)
		if p.maxDepth > 0 {
			x.MaxPropertyDepth(p.maxDepth)
		}
		extracted, err := x.Run(st.reader)
		if err != nil {
			return fn.Err[*fileState](err)
		}
		st.extracted = extracted
		res.Stats = extracted.Stats
		return fn.Ok(st)
	}
}

func (p *Pipeline) loadStage(res *FileResult) fn.Stage[*fileState, *fileState] {
	return func(ctx context.Context, st *fileState) fn.Result[*fileState] {
		if st.skip {
			return fn.Ok(st)
		}
		res.Status = StatusLoading
		p.transition(ctx, res)

		ops, err := model.Build(st.info, st.extracted.Elements, st.extracted.Relationships)
		if err != nil {
			return fn.Err[*fileState](err)
		}
		st.ops = ops
		if err := p.store.LoadOps(ctx, st.info.FileID, ops); err != nil {
			return fn.Err[*fileState](err)
		}

		if p.validate {
			mismatches, err := p.store.Validate(ctx, st.info.FileID,
				st.extracted.Stats.Elements, st.extracted.Stats.Relationships)
			if err != nil {
				p.log.Warn("validation query failed", "file", st.info.FileID, "err", err)
			}
			res.Mismatches = mismatches
			for _, m := range mismatches {
				p.log.Warn("count mismatch after load", "detail", m.String())
			}
		}
		return fn.Ok(st)
	}
}

func (p *Pipeline) transition(ctx context.Context, res *FileResult) {
	args := []any{"file", res.Path, "status", res.Status}
	if res.FileID != "" {
		args = append(args, "fileId", res.FileID)
	}
	if res.Err != nil {
		args = append(args, "err", res.Err)
		p.log.Error("ingest state", args...)
	} else {
		p.log.Info("ingest state", args...)
	}

	if p.notify != nil {
		ev := StatusEvent{FileID: res.FileID, Path: res.Path, Status: res.Status}
		if res.Err != nil {
			ev.Error = res.Err.Error()
		}
		p.notify(ctx, ev)
	}
}

func (p *Pipeline) count(st extract.Stats) {
	if p.filesLoaded == nil {
		return
	}
	p.filesLoaded.Inc()
	p.elements.Add(int64(st.Elements))
	p.rels.Add(int64(st.Relationships))
	p.orphans.Add(int64(st.Orphans))
}
