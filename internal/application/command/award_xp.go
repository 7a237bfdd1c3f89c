package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Adds experience to a user's record, lazily creating it, and keeps the cached
// level fields in step with the formula. A level change may unlock
// level_reached achievements, so a successful award schedules an evaluation.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data to award experience.
type AwardXPCommand struct {
	// UserID is the user receiving XP.
	UserID string

	// Action names an XP rule (e.g. "post_published"). When set, Category and
	// Amount come from the rule book.
	Action string

	// Category and Amount are used when Action is empty.
	Category progression.XPCategory
	Amount   int64

	// Reason is stored in the audit log. Defaults to Action.
	Reason string

	// CorrelationID for tracing.
	CorrelationID string
}

// AwardXPResult contains the result of an award.
type AwardXPResult struct {
	UserID    string                 `json:"user_id"`
	Category  progression.XPCategory `json:"category"`
	Awarded   int64                  `json:"awarded"`
	OldLevel  int                    `json:"old_level"`
	LeveledUp bool                   `json:"leveled_up"`
	Level     progression.LevelInfo  `json:"level"`
}

// AwardXPConfig contains configuration for the handler.
type AwardXPConfig struct {
	// MaxAwardPerCall caps a single award.
	MaxAwardPerCall int64

	// AutoEvaluate schedules an achievement evaluation after each award.
	AutoEvaluate bool
}

// DefaultAwardXPConfig returns default configuration.
func DefaultAwardXPConfig() AwardXPConfig {
	return AwardXPConfig{
		MaxAwardPerCall: 10_000,
		AutoEvaluate:    true,
	}
}

// AwardXPHandler handles the AwardXPCommand.
type AwardXPHandler struct {
	repo      progression.ExperienceRepository
	rules     *progression.RuleBook
	cache     LevelCacheInvalidator
	eventBus  shared.EventPublisher
	evaluator EvaluationTrigger
	logger    *slog.Logger

	config AwardXPConfig
	now    func() time.Time
}

// NewAwardXPHandler creates a new AwardXPHandler. cache and evaluator may be nil.
func NewAwardXPHandler(
	repo progression.ExperienceRepository,
	rules *progression.RuleBook,
	cache LevelCacheInvalidator,
	eventBus shared.EventPublisher,
	evaluator EvaluationTrigger,
	logger *slog.Logger,
	config AwardXPConfig,
) *AwardXPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if eventBus == nil {
		eventBus = shared.NopPublisher{}
	}
	if config.MaxAwardPerCall <= 0 {
		config.MaxAwardPerCall = DefaultAwardXPConfig().MaxAwardPerCall
	}

	return &AwardXPHandler{
		repo:      repo,
		rules:     rules,
		cache:     cache,
		eventBus:  eventBus,
		evaluator: evaluator,
		logger:    logger.With("command", "award_xp"),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	if err := h.resolve(&cmd); err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}
	if err := h.validate(cmd); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}

	now := h.now()
	var outcome progression.AwardOutcome

	record, err := h.repo.ApplyExperience(ctx, cmd.UserID, now, func(rec *progression.ExperienceRecord) error {
		var awardErr error
		outcome, awardErr = rec.Award(cmd.Category, cmd.Amount, now)
		return awardErr
	})
	if err != nil {
		return nil, fmt.Errorf("award_xp: failed to apply award: %w", err)
	}

	log := h.logger.With("user_id", cmd.UserID)

	// Audit trail is non-critical
	if err := h.repo.AppendXPEvent(ctx, progression.XPEvent{
		ID:        uuid.NewString(),
		UserID:    cmd.UserID,
		Category:  cmd.Category,
		Amount:    cmd.Amount,
		Reason:    cmd.Reason,
		CreatedAt: now,
	}); err != nil {
		log.Warn("failed to append xp event", "error", err)
	}

	if h.cache != nil {
		if err := h.cache.InvalidateLevel(ctx, cmd.UserID); err != nil {
			log.Warn("failed to invalidate level cache", "error", err)
		}
	}

	awarded := shared.NewXPAwardedEvent(cmd.UserID, string(cmd.Category), cmd.Amount, record.TotalXP, cmd.Reason)
	awarded.CorrelationID = cmd.CorrelationID
	h.publish(log, awarded)
	if outcome.LeveledUp() {
		log.Info("level up", "old_level", outcome.OldLevel, "new_level", outcome.NewLevel)
		h.publish(log, shared.NewLevelUpEvent(cmd.UserID, outcome.OldLevel, outcome.NewLevel, record.TotalXP))
	}

	if h.config.AutoEvaluate && h.evaluator != nil {
		h.evaluator.Trigger(cmd.UserID)
	}

	return &AwardXPResult{
		UserID:    cmd.UserID,
		Category:  cmd.Category,
		Awarded:   cmd.Amount,
		OldLevel:  outcome.OldLevel,
		LeveledUp: outcome.LeveledUp(),
		Level:     progression.Describe(record.TotalXP),
	}, nil
}

// resolve fills Category and Amount from the rule book when Action is set.
func (h *AwardXPHandler) resolve(cmd *AwardXPCommand) error {
	if cmd.Action == "" {
		return nil
	}
	if h.rules == nil {
		return shared.ErrUnknownXPAction
	}
	rule, err := h.rules.Resolve(cmd.Action)
	if err != nil {
		return err
	}
	cmd.Category = rule.Category
	cmd.Amount = rule.Amount
	if cmd.Reason == "" {
		cmd.Reason = cmd.Action
	}
	return nil
}

func (h *AwardXPHandler) validate(cmd AwardXPCommand) error {
	if err := validateUserID(cmd.UserID); err != nil {
		return err
	}
	if !cmd.Category.IsValid() {
		return shared.ErrInvalidXPCategory
	}
	if cmd.Amount <= 0 || cmd.Amount > h.config.MaxAwardPerCall {
		return shared.ErrInvalidXPAmount
	}
	return nil
}

func (h *AwardXPHandler) publish(log *slog.Logger, event shared.Event) {
	if err := h.eventBus.Publish(event); err != nil {
		log.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
