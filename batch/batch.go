// Package batch schedules verification pipelines across a set of PRs.
package batch

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arii/leaderops/pipeline"
	"github.com/arii/leaderops/review"
)

// Pipeline is the per-PR entry point the scheduler drives.
type Pipeline interface {
	VerifyPR(ctx context.Context, prNumber int) (*pipeline.Run, error)
}

// Scheduler fans PR verifications out across a bounded worker pool. One
// PR's failure never aborts the others; only infrastructure errors
// (listing the worklist) fail the batch.
type Scheduler struct {
	pipeline Pipeline
	reviews  review.Gateway
	workers  int
	log      *zap.SugaredLogger
}

// NewScheduler creates a scheduler running up to workers pipelines
// concurrently. Same-branch exclusion is enforced below, in the
// workspace layer.
func NewScheduler(p Pipeline, reviews review.Gateway, workers int, log *zap.SugaredLogger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{pipeline: p, reviews: reviews, workers: workers, log: log}
}

// VerifyAll snapshots the open non-bot PRs and verifies them. PRs
// opened after the snapshot are not picked up.
func (s *Scheduler) VerifyAll(ctx context.Context) (*Summary, error) {
	prs, err := s.reviews.ListOpenPRs(ctx, true)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(prs))
	for _, pr := range prs {
		numbers = append(numbers, pr.Number)
	}
	s.log.Infow("Batch worklist snapshot", "prs", numbers, "workers", s.workers)

	return s.Verify(ctx, numbers)
}

// Verify runs the pipeline for each listed PR.
func (s *Scheduler) Verify(ctx context.Context, prNumbers []int) (*Summary, error) {
	summary := &Summary{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, number := range prNumbers {
		g.Go(func() error {
			run, err := s.pipeline.VerifyPR(ctx, number)
			if err != nil {
				s.log.Warnw("Pipeline error", "pr", number, "error", err)
			}

			mu.Lock()
			summary.Runs = append(summary.Runs, run)
			mu.Unlock()
			// Per-PR failures are recorded in the run, never propagated:
			// propagating would cancel the sibling pipelines.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(summary.Runs, func(i, j int) bool {
		return summary.Runs[i].PRNumber < summary.Runs[j].PRNumber
	})
	return summary, nil
}
