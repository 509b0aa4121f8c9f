package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/pkg/fn"
)

// RunReport aggregates a directory run.
type RunReport struct {
	Files            int
	Loaded           int
	Skipped          int
	Failed           int
	Records          int64
	Elements         int
	Relationships    int
	Orphans          int
	SyntheticIDs     int
	PropertyWarnings int
	SkippedRecords   int64
	Elapsed          time.Duration
	Results          []FileResult
}

// Summary is the one-line form used in run logs.
func (r *RunReport) Summary() string {
	return fmt.Sprintf("%d files (%d loaded, %d skipped, %d failed): %d elements, %d relationships, %d orphans dropped, %d warnings in %s",
		r.Files, r.Loaded, r.Skipped, r.Failed, r.Elements, r.Relationships,
		r.Orphans, r.PropertyWarnings, r.Elapsed.Round(time.Millisecond))
}

// RunDir ingests every model file in a directory, processing up to the
// configured number of files concurrently. Workers share only the
// store's session pool; all per-file state is private to its worker.
func (p *Pipeline) RunDir(ctx context.Context, dir string) (*RunReport, error) {
	paths, err := ListModelFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no model files in %s", dir)
	}

	if err := p.store.EnsureConstraints(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	results := fn.ParMapResult(paths, p.workers, func(path string) fn.Result[FileResult] {
		return fn.Ok(p.ProcessFile(ctx, path))
	})

	report := &RunReport{Files: len(paths), Elapsed: time.Since(start)}
	for _, r := range results {
		res, _ := r.Unwrap()
		report.Results = append(report.Results, res)
		switch res.Status {
		case StatusLoaded:
			report.Loaded++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
		report.Records += res.Stats.Records
		report.Elements += res.Stats.Elements
		report.Relationships += res.Stats.Relationships
		report.Orphans += res.Stats.Orphans
		report.SyntheticIDs += res.Stats.SyntheticIDs
		report.PropertyWarnings += res.Stats.PropertyWarnings
		report.SkippedRecords += res.Stats.SkippedRecords
	}
	return report, nil
}

// ListModelFiles returns the IFC files directly under dir, sorted for
// deterministic processing order.
func ListModelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".ifc") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// fileInfo builds the File node metadata from the filesystem.
func fileInfo(path string) (domain.FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.FileInfo{}, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return domain.FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return domain.FileInfo{
		FileID:       FileID(abs, st.ModTime()),
		FileName:     filepath.Base(abs),
		FilePath:     abs,
		FileSize:     st.Size(),
		CreatedDate:  st.ModTime(), // creation time is not portable; modification time stands in
		ModifiedDate: st.ModTime(),
		ImportDate:   time.Now().UTC(),
	}, nil
}
