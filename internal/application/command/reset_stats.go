package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET STATS COMMAND
// Administrative full statistics reset: zeroes the experience record and
// removes every achievement progress row, including completed ones.
// ══════════════════════════════════════════════════════════════════════════════

// ResetStatsCommand contains the data to reset a user.
type ResetStatsCommand struct {
	UserID string

	// RequestedBy identifies the operator for the audit log.
	RequestedBy string
}

// ResetStatsResult contains the result of a reset.
type ResetStatsResult struct {
	UserID        string    `json:"user_id"`
	PreviousXP    int64     `json:"previous_xp"`
	PreviousLevel int       `json:"previous_level"`
	ResetAt       time.Time `json:"reset_at"`
}

// ResetStatsHandler handles the ResetStatsCommand.
type ResetStatsHandler struct {
	repo     progression.ExperienceRepository
	cache    LevelCacheInvalidator
	eventBus shared.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewResetStatsHandler creates a new ResetStatsHandler. cache may be nil.
func NewResetStatsHandler(
	repo progression.ExperienceRepository,
	cache LevelCacheInvalidator,
	eventBus shared.EventPublisher,
	logger *slog.Logger,
) *ResetStatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if eventBus == nil {
		eventBus = shared.NopPublisher{}
	}

	return &ResetStatsHandler{
		repo:     repo,
		cache:    cache,
		eventBus: eventBus,
		logger:   logger.With("command", "reset_stats"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the reset.
func (h *ResetStatsHandler) Handle(ctx context.Context, cmd ResetStatsCommand) (*ResetStatsResult, error) {
	if err := validateUserID(cmd.UserID); err != nil {
		return nil, fmt.Errorf("reset_stats: validation failed: %w", err)
	}

	previous, err := h.repo.GetExperience(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("reset_stats: failed to load experience: %w", err)
	}

	now := h.now()
	if err := h.repo.ResetUser(ctx, cmd.UserID, now); err != nil {
		return nil, fmt.Errorf("reset_stats: failed to reset user: %w", err)
	}

	result := &ResetStatsResult{
		UserID:        cmd.UserID,
		PreviousLevel: progression.MinLevel,
		ResetAt:       now,
	}
	if previous != nil {
		result.PreviousXP = previous.TotalXP
		result.PreviousLevel = previous.Level()
	}

	log := h.logger.With("user_id", cmd.UserID)
	log.Info("user statistics reset",
		"requested_by", cmd.RequestedBy,
		"previous_xp", result.PreviousXP,
		"previous_level", result.PreviousLevel,
	)

	if h.cache != nil {
		if err := h.cache.InvalidateLevel(ctx, cmd.UserID); err != nil {
			log.Warn("failed to invalidate level cache", "error", err)
		}
	}

	if err := h.eventBus.Publish(shared.NewStatsResetEvent(cmd.UserID, result.PreviousXP, result.PreviousLevel)); err != nil {
		log.Warn("failed to publish event", "event_type", shared.EventStatsReset, "error", err)
	}

	return result, nil
}
