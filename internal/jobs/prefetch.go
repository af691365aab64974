package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diffpilot/diffpilot/internal/core"
)

// Fetcher warms one file version into the artifact cache.
type Fetcher func(ctx context.Context, pr *core.PRInfo, path, sha string) error

// maxPrefetchFiles bounds how many changed files a single prefetch touches;
// very large PRs fall back to on-demand fetching for the tail.
const maxPrefetchFiles = 50

// prefetchConcurrency bounds parallel provider requests per job.
const prefetchConcurrency = 8

// PrefetchJob warms the artifact cache with the head and base contents of a
// pull request's changed files, so the first sandbox iteration and the diff
// viewer hit warm entries. It is best-effort: individual misses are logged
// and skipped.
type PrefetchJob struct {
	fetch  Fetcher
	logger *slog.Logger
}

func NewPrefetchJob(fetch Fetcher, logger *slog.Logger) core.Job {
	if fetch == nil {
		panic("fetcher cannot be nil")
	}
	return &PrefetchJob{fetch: fetch, logger: logger}
}

// Run fans out over the changed files with bounded parallelism.
func (j *PrefetchJob) Run(ctx context.Context, event *core.PrefetchEvent) error {
	pr := event.PR
	files := pr.Files
	if len(files) > maxPrefetchFiles {
		j.logger.Debug("prefetch capped", "review_id", event.ReviewID,
			"files", len(files), "cap", maxPrefetchFiles)
		files = files[:maxPrefetchFiles]
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	started := time.Now()
	g, groupCtx := errgroup.WithContext(runCtx)
	g.SetLimit(prefetchConcurrency)

	for _, f := range files {
		if f.Status != core.FileRemoved {
			g.Go(j.fetchOne(groupCtx, pr, f.Path, pr.HeadSHA))
		}
		if f.Status != core.FileAdded {
			g.Go(j.fetchOne(groupCtx, pr, f.Path, pr.BaseSHA))
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	j.logger.Info("prefetch completed",
		"review_id", event.ReviewID,
		"files", len(files),
		"duration", time.Since(started).Round(time.Millisecond))
	return nil
}

// fetchOne wraps a single warm-up; only context failures propagate, anything
// else is a per-file miss.
func (j *PrefetchJob) fetchOne(ctx context.Context, pr *core.PRInfo, path, sha string) func() error {
	return func() error {
		if err := j.fetch(ctx, pr, path, sha); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logger.Debug("prefetch miss", "path", path, "sha", sha, "error", err)
		}
		return nil
	}
}
