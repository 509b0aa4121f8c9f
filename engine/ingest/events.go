package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/bimgraph/bimgraph/pkg/natsutil"
)

// NATS subjects for the ingestion event surface.
const (
	SubjectJobs   = "bimgraph.ingest.jobs"
	SubjectStatus = "bimgraph.ingest.status"
)

// Job asks the import service to ingest one file or directory.
type Job struct {
	Path string `json:"path"`
	Dir  bool   `json:"dir,omitempty"`
}

// NATSNotifier returns a transition observer that publishes every
// status change to the status subject. Publish failures are logged and
// dropped; the event stream is advisory.
func NATSNotifier(nc *nats.Conn, log *slog.Logger) func(context.Context, StatusEvent) {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, ev StatusEvent) {
		if err := natsutil.Publish(ctx, nc, SubjectStatus, ev); err != nil {
			log.Warn("status publish failed", "subject", SubjectStatus, "err", err)
		}
	}
}

// SubscribeJobs consumes ingestion jobs from the jobs subject and runs
// them through the pipeline. Used by long-running import services; the
// CLI path calls RunDir directly.
func SubscribeJobs(nc *nats.Conn, p *Pipeline, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Subscribe(nc, SubjectJobs, func(ctx context.Context, job Job) {
		if job.Dir {
			report, err := p.RunDir(ctx, job.Path)
			if err != nil {
				log.Error("job run failed", "path", job.Path, "err", err)
				return
			}
			log.Info("job run finished", "path", job.Path, "summary", report.Summary())
			return
		}
		res := p.ProcessFile(ctx, job.Path)
		if res.Err != nil {
			log.Error("job file failed", "path", job.Path, "err", res.Err)
		}
	})
}
