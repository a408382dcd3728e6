package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arii/leaderops/config"
)

func newRunner(t *testing.T, cfg config.VerifyConfig) *Runner {
	t.Helper()
	if cfg.StepTimeoutSeconds == 0 {
		cfg.StepTimeoutSeconds = 60
	}
	if cfg.MaxLogBytes == 0 {
		cfg.MaxLogBytes = 2000
	}
	r, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return r
}

func TestRun(t *testing.T) {
	t.Run("all steps pass", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Install: "true",
			Build:   "true",
			Test:    "true",
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.True(t, res.Passed())
		require.Len(t, res.Steps, 3)
		for _, s := range res.Steps {
			assert.Equal(t, StepPassed, s.Status)
		}
	})

	t.Run("build failure short-circuits test", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Install: "true",
			Build:   "false",
			Test:    "true",
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.False(t, res.Passed())

		require.Len(t, res.Steps, 3)
		assert.Equal(t, StepPassed, res.Steps[0].Status)
		assert.Equal(t, StepFailed, res.Steps[1].Status)
		assert.Equal(t, StepSkipped, res.Steps[2].Status)
		assert.Contains(t, res.Steps[2].Log, "earlier step failed")

		failed := res.FailedStep()
		require.NotNil(t, failed)
		assert.Equal(t, "build", failed.Name)
	})

	t.Run("empty command is surfaced as skipped, not passed", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Install: "",
			Build:   "true",
			Test:    "true",
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		require.Len(t, res.Steps, 3)
		assert.Equal(t, StepSkipped, res.Steps[0].Status)
		assert.Contains(t, res.Steps[0].Log, "no command configured")
		assert.True(t, res.Passed(), "skipped-by-config does not fail the run")
	})

	t.Run("failure marker fails a zero-exit test step", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Install:        "true",
			Build:          "true",
			Test:           `sh -c "echo 2 passed, 3 failed"`,
			FailureMarkers: []string{`\d+\s+failed`},
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.False(t, res.Passed())

		failed := res.FailedStep()
		require.NotNil(t, failed)
		assert.Equal(t, "test", failed.Name)
		assert.False(t, failed.TimedOut)
	})

	t.Run("markers do not apply to install or build output", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Install:        `sh -c "echo previously 3 failed builds fixed"`,
			Build:          "true",
			Test:           "true",
			FailureMarkers: []string{`\d+\s+failed`},
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.True(t, res.Passed())

		require.Len(t, res.Steps, 3)
		assert.Equal(t, StepPassed, res.Steps[0].Status)
		assert.Equal(t, StepPassed, res.Steps[2].Status, "test step runs, not skipped")
	})

	t.Run("test output mentioning error passes with default markers", func(t *testing.T) {
		v := viper.New()
		config.SetDefaults(v)
		r := newRunner(t, config.VerifyConfig{
			Test:           `sh -c "echo PASS: handles error case gracefully"`,
			FailureMarkers: v.GetStringSlice("verify.failure_markers"),
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.True(t, res.Passed())
	})

	t.Run("timeout fails the step with a note", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Test:               "sleep 5",
			StepTimeoutSeconds: 1,
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)

		failed := res.FailedStep()
		require.NotNil(t, failed)
		assert.True(t, failed.TimedOut)
		assert.Contains(t, failed.Log, "timed out")
	})

	t.Run("CI env is set for steps", func(t *testing.T) {
		r := newRunner(t, config.VerifyConfig{
			Test:           `sh -c "test \"$CI\" = true"`,
			FailureMarkers: nil,
		})

		res, err := r.Run(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.True(t, res.Passed())
	})

	t.Run("invalid marker fails construction", func(t *testing.T) {
		_, err := New(config.VerifyConfig{
			StepTimeoutSeconds: 60,
			MaxLogBytes:        2000,
			FailureMarkers:     []string{"("},
		}, zap.NewNop().Sugar())
		require.Error(t, err)
	})
}

func TestTruncateTail(t *testing.T) {
	long := strings.Repeat("x", 100) + "TAIL"
	got := truncateTail(long, 10)
	assert.True(t, strings.HasSuffix(got, "TAIL"))
	assert.Contains(t, got, "truncated")

	short := "short"
	assert.Equal(t, short, truncateTail(short, 10))
}
