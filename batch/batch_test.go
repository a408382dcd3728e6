package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/pipeline"
	"github.com/arii/leaderops/review"
)

type fakePipeline struct {
	outcomes map[int]pipeline.Outcome

	mu          sync.Mutex
	inFlight    int32
	maxInFlight int32
}

func (f *fakePipeline) VerifyPR(ctx context.Context, prNumber int) (*pipeline.Run, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if cur > f.maxInFlight {
		f.maxInFlight = cur
	}
	f.mu.Unlock()

	outcome := pipeline.OutcomeVerified
	if o, ok := f.outcomes[prNumber]; ok {
		outcome = o
	}
	run := &pipeline.Run{PRNumber: prNumber, Branch: "feature/x", Outcome: outcome}
	if outcome == pipeline.OutcomeAborted {
		return run, errors.New("infrastructure hiccup")
	}
	return run, nil
}

type fakeReviews struct {
	prs     []review.PullRequest
	listErr error
}

func (f *fakeReviews) ListOpenPRs(ctx context.Context, excludeBots bool) ([]review.PullRequest, error) {
	return f.prs, f.listErr
}
func (f *fakeReviews) GetPR(ctx context.Context, number int) (*review.PullRequest, error) {
	return nil, errors.ErrNotFound
}
func (f *fakeReviews) PostComment(ctx context.Context, number int, body string) error { return nil }
func (f *fakeReviews) SetReady(ctx context.Context, number int, ready bool) error     { return nil }
func (f *fakeReviews) ListOpenIssues(ctx context.Context) ([]review.Issue, error)     { return nil, nil }
func (f *fakeReviews) GetIssue(ctx context.Context, number int) (*review.Issue, error) {
	return nil, errors.ErrNotFound
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("one conflict of three leaves the others verified", func(t *testing.T) {
		p := &fakePipeline{outcomes: map[int]pipeline.Outcome{2: pipeline.OutcomeRebaseConflict}}
		s := NewScheduler(p, &fakeReviews{}, 3, zap.NewNop().Sugar())

		summary, err := s.Verify(ctx, []int{1, 2, 3})
		require.NoError(t, err)
		require.Len(t, summary.Runs, 3)

		counts := summary.Counts()
		assert.Equal(t, 2, counts[pipeline.OutcomeVerified])
		assert.Equal(t, 1, counts[pipeline.OutcomeRebaseConflict])
		assert.Equal(t, 1, summary.ExitCode())

		attention := summary.NeedsAttention()
		require.Len(t, attention, 1)
		assert.Equal(t, 2, attention[0].PRNumber)
	})

	t.Run("pipeline errors never abort the batch", func(t *testing.T) {
		p := &fakePipeline{outcomes: map[int]pipeline.Outcome{1: pipeline.OutcomeAborted}}
		s := NewScheduler(p, &fakeReviews{}, 2, zap.NewNop().Sugar())

		summary, err := s.Verify(ctx, []int{1, 2, 3})
		require.NoError(t, err)
		assert.Len(t, summary.Runs, 3)
		assert.Equal(t, 2, summary.Counts()[pipeline.OutcomeVerified])
	})

	t.Run("worker limit bounds concurrency", func(t *testing.T) {
		p := &fakePipeline{}
		s := NewScheduler(p, &fakeReviews{}, 2, zap.NewNop().Sugar())

		_, err := s.Verify(ctx, []int{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		assert.LessOrEqual(t, p.maxInFlight, int32(2))
	})

	t.Run("all verified exits zero", func(t *testing.T) {
		s := NewScheduler(&fakePipeline{}, &fakeReviews{}, 1, zap.NewNop().Sugar())
		summary, err := s.Verify(ctx, []int{1, 2})
		require.NoError(t, err)
		assert.Equal(t, 0, summary.ExitCode())
	})
}

func TestVerifyAll(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshots the open PR list", func(t *testing.T) {
		reviews := &fakeReviews{prs: []review.PullRequest{
			{Number: 10, HeadRefName: "feature/a"},
			{Number: 11, HeadRefName: "feature/b"},
		}}
		s := NewScheduler(&fakePipeline{}, reviews, 1, zap.NewNop().Sugar())

		summary, err := s.VerifyAll(ctx)
		require.NoError(t, err)
		require.Len(t, summary.Runs, 2)
		assert.Equal(t, 10, summary.Runs[0].PRNumber)
		assert.Equal(t, 11, summary.Runs[1].PRNumber)
	})

	t.Run("listing failure fails the batch", func(t *testing.T) {
		reviews := &fakeReviews{listErr: errors.New("remote unreachable")}
		s := NewScheduler(&fakePipeline{}, reviews, 1, zap.NewNop().Sugar())

		_, err := s.VerifyAll(ctx)
		require.Error(t, err)
	})
}
