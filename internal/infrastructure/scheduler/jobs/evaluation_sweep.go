// Package jobs contains the scheduled maintenance jobs of the progression engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/inkquest/inkquest/internal/application/saga"
	"github.com/inkquest/inkquest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// Evaluator runs one evaluation pass.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string) (*saga.EvaluationResult, error)
}

// EvaluationSweepConfig contains configuration for the sweep.
type EvaluationSweepConfig struct {
	// Lookback is how far back post changes are considered.
	Lookback time.Duration

	// BatchSize caps the number of authors evaluated per run.
	BatchSize int
}

// DefaultEvaluationSweepConfig returns sensible defaults.
func DefaultEvaluationSweepConfig() EvaluationSweepConfig {
	return EvaluationSweepConfig{
		Lookback:  30 * time.Minute,
		BatchSize: 500,
	}
}

// SweepStats contains statistics from a sweep run.
type SweepStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Authors     int
	Evaluated   int
	Aborted     int
	Completed   int
	Progressed  int
}

// EvaluationSweepJob re-evaluates authors whose posts changed recently.
// Likes and views arrive without a triggering action, so this catches
// thresholds crossed between awards.
type EvaluationSweepJob struct {
	feed      achievement.ActivityFeed
	evaluator Evaluator
	logger    *slog.Logger
	config    EvaluationSweepConfig
	now       func() time.Time

	lastStats atomic.Pointer[SweepStats]
}

// NewEvaluationSweepJob creates a new sweep job.
func NewEvaluationSweepJob(
	feed achievement.ActivityFeed,
	evaluator Evaluator,
	logger *slog.Logger,
	config EvaluationSweepConfig,
) *EvaluationSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultEvaluationSweepConfig()
	if config.Lookback <= 0 {
		config.Lookback = defaults.Lookback
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &EvaluationSweepJob{
		feed:      feed,
		evaluator: evaluator,
		logger:    logger.With("job", "evaluation_sweep"),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the job name.
func (j *EvaluationSweepJob) Name() string {
	return "evaluation_sweep"
}

// Description returns a human-readable description.
func (j *EvaluationSweepJob) Description() string {
	return "Re-evaluates achievements of authors whose posts changed recently"
}

// Run executes the sweep. Aborted passes are counted, not returned; the
// run fails only when the author list cannot be read or ctx ends.
func (j *EvaluationSweepJob) Run(ctx context.Context) error {
	stats := &SweepStats{StartedAt: j.now()}
	defer func() {
		stats.CompletedAt = j.now()
		j.lastStats.Store(stats)
	}()

	since := stats.StartedAt.Add(-j.config.Lookback)
	authors, err := j.feed.ListActiveAuthors(ctx, since, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list active authors: %w", err)
	}
	stats.Authors = len(authors)

	for _, userID := range authors {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep interrupted after %d of %d authors: %w", stats.Evaluated, stats.Authors, err)
		}

		result, err := j.evaluator.Evaluate(ctx, userID)
		if err != nil {
			stats.Aborted++
			if !errors.Is(err, context.Canceled) {
				j.logger.Debug("sweep evaluation aborted", "user_id", userID, "error", err)
			}
			continue
		}
		stats.Evaluated++
		stats.Completed += len(result.Completed)
		stats.Progressed += len(result.Progressed)
	}

	j.logger.Info("evaluation sweep finished",
		"authors", stats.Authors,
		"evaluated", stats.Evaluated,
		"aborted", stats.Aborted,
		"completed", stats.Completed,
		"progressed", stats.Progressed,
	)
	return nil
}

// LastStats returns statistics of the previous run, nil before the first.
func (j *EvaluationSweepJob) LastStats() *SweepStats {
	return j.lastStats.Load()
}
