package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/inkquest/inkquest/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL REPAIR JOB
// ══════════════════════════════════════════════════════════════════════════════

// LevelCacheInvalidator drops cached level views.
type LevelCacheInvalidator interface {
	InvalidateLevel(ctx context.Context, userID string) error
}

// RepairStats contains statistics from a repair run.
type RepairStats struct {
	Found    int
	Repaired int
	Failed   int
}

// LevelRepairJob rewrites cached current_level / xp_to_next_level fields
// that disagree with total_xp. Readers never trust the cached level, so
// this only keeps the stored row tidy for external consumers.
type LevelRepairJob struct {
	repo      progression.ExperienceRepository
	cache     LevelCacheInvalidator
	logger    *slog.Logger
	batchSize int
	now       func() time.Time

	lastStats atomic.Pointer[RepairStats]
}

// NewLevelRepairJob creates a repair job. cache may be nil.
func NewLevelRepairJob(
	repo progression.ExperienceRepository,
	cache LevelCacheInvalidator,
	logger *slog.Logger,
	batchSize int,
) *LevelRepairJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &LevelRepairJob{
		repo:      repo,
		cache:     cache,
		logger:    logger.With("job", "level_repair"),
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the job name.
func (j *LevelRepairJob) Name() string {
	return "level_repair"
}

// Description returns a human-readable description.
func (j *LevelRepairJob) Description() string {
	return "Recomputes cached level fields that disagree with total XP"
}

// Run executes the repair.
func (j *LevelRepairJob) Run(ctx context.Context) error {
	stats := &RepairStats{}
	defer j.lastStats.Store(stats)

	stale, err := j.repo.ListStaleExperience(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale experience: %w", err)
	}
	stats.Found = len(stale)

	for _, rec := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Re-read under the row lock; an award may have fixed it already.
		_, err := j.repo.ApplyExperience(ctx, rec.UserID, j.now(), func(r *progression.ExperienceRecord) error {
			r.Refresh()
			return nil
		})
		if err != nil {
			stats.Failed++
			j.logger.Warn("failed to repair level", "user_id", rec.UserID, "error", err)
			continue
		}
		stats.Repaired++

		if j.cache != nil {
			if err := j.cache.InvalidateLevel(ctx, rec.UserID); err != nil {
				j.logger.Warn("failed to invalidate level cache", "user_id", rec.UserID, "error", err)
			}
		}
	}

	if stats.Found > 0 {
		j.logger.Info("level repair finished",
			"found", stats.Found,
			"repaired", stats.Repaired,
			"failed", stats.Failed,
		)
	}
	return nil
}

// LastStats returns statistics of the previous run, nil before the first.
func (j *LevelRepairJob) LastStats() *RepairStats {
	return j.lastStats.Load()
}
