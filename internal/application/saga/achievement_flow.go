// Package saga contains business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Fetch Stats (4 reads, all-or-nothing) → Build Snapshot →
//
//	Decide per achievement → Persist (per-row, failures isolated) → Publish Events
//
// Evaluation is a best-effort enrichment: a failed read aborts the pass
// without writing anything, a failed write only skips that achievement.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepValidate      AchievementFlowStep = "validate"
	StepFetchStats    AchievementFlowStep = "fetch_stats"
	StepBuildSnapshot AchievementFlowStep = "build_snapshot"
	StepPersist       AchievementFlowStep = "persist"
	StepPublishEvents AchievementFlowStep = "publish_events"
	StepComplete      AchievementFlowStep = "complete"
)

// EvaluationResult contains the outcome of one evaluation pass.
type EvaluationResult struct {
	// UserID - the user that was evaluated.
	UserID string `json:"user_id"`

	// Snapshot - the aggregates the pass was computed from.
	Snapshot achievement.UserStatsSnapshot `json:"snapshot"`

	// Completed - achievement ids whose completion row was written in this pass.
	Completed []string `json:"completed"`

	// Progressed - achievement ids that received a new progress value.
	Progressed []string `json:"progressed"`

	// Failed - achievement ids whose write failed.
	Failed []string `json:"failed"`

	// Unchanged - number of achievements that needed no write.
	Unchanged int `json:"unchanged"`

	// EvaluatedAt - when the pass finished.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// HasChanges returns true if the pass wrote anything.
func (r *EvaluationResult) HasChanges() bool {
	return len(r.Completed) > 0 || len(r.Progressed) > 0
}

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	// Timeout bounds a whole pass. A pass that runs out of time is aborted
	// exactly like one whose reads failed.
	Timeout time.Duration

	// PublishProgressEvents enables achievement.progressed events.
	PublishProgressEvents bool
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		Timeout:               10 * time.Second,
		PublishProgressEvents: true,
	}
}

// AchievementFlowSaga evaluates a user's achievements against the catalog.
type AchievementFlowSaga struct {
	stats    achievement.StatsProvider
	eventBus shared.EventPublisher
	logger   *slog.Logger
	config   AchievementFlowConfig
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewAchievementFlowSaga creates a new achievement flow saga.
func NewAchievementFlowSaga(
	stats achievement.StatsProvider,
	eventBus shared.EventPublisher,
	logger *slog.Logger,
	config AchievementFlowConfig,
) *AchievementFlowSaga {
	if logger == nil {
		logger = slog.Default()
	}
	if eventBus == nil {
		eventBus = shared.NopPublisher{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultAchievementFlowConfig().Timeout
	}

	return &AchievementFlowSaga{
		stats:    stats,
		eventBus: eventBus,
		logger:   logger.With("saga", "achievement_flow"),
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *AchievementFlowSaga) WithClock(now func() time.Time) *AchievementFlowSaga {
	s.now = now
	return s
}

// fetched holds the four reads of one pass.
type fetched struct {
	posts    []achievement.Post
	exp      *progression.ExperienceRecord
	catalog  []achievement.Definition
	progress []achievement.UserAchievementProgress
}

// Evaluate runs one evaluation pass for userID.
//
// The returned error is informational: fire-and-forget callers discard it.
// An aborted pass returns an error matching shared.ErrEvaluationAborted and
// leaves the store untouched.
func (s *AchievementFlowSaga) Evaluate(ctx context.Context, userID string) (*EvaluationResult, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, &AchievementFlowError{Step: StepValidate, UserID: userID, Cause: shared.ErrInvalidUserID}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	started := s.now()
	log := s.logger.With("user_id", userID)

	// Step 1: all four reads, all-or-nothing
	data, err := s.stepFetchStats(ctx, userID)
	if err != nil {
		log.Warn("evaluation aborted: stats unavailable", "error", err)
		return nil, s.abort(StepFetchStats, userID, err)
	}

	// Step 2: snapshot
	result := &EvaluationResult{
		UserID:   userID,
		Snapshot: achievement.NewSnapshot(data.posts, data.exp),
	}

	// Step 3: decide and persist
	var events []shared.Event
	existing := achievement.IndexProgress(data.progress)
	for _, def := range data.catalog {
		var prev *achievement.UserAchievementProgress
		if row, ok := existing[def.ID]; ok {
			prev = &row
		}

		decision := achievement.Decide(userID, def, result.Snapshot, prev, s.now())
		if decision.Kind == achievement.DecisionNone {
			result.Unchanged++
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("evaluation aborted: deadline reached while persisting",
				"achievement_id", def.ID,
				"error", ctxErr,
			)
			return result, s.abort(StepPersist, userID, ctxErr)
		}

		written, err := s.stats.UpsertProgress(ctx, decision.Row)
		if err != nil {
			log.Error("failed to persist achievement progress",
				"achievement_id", def.ID,
				"decision", decision.Kind.String(),
				"error", err,
			)
			result.Failed = append(result.Failed, def.ID)
			continue
		}
		if !written {
			// A concurrent pass completed it first and owns the unlock event.
			log.Debug("achievement already completed by another pass", "achievement_id", def.ID)
			result.Unchanged++
			continue
		}

		switch decision.Kind {
		case achievement.DecisionComplete:
			result.Completed = append(result.Completed, def.ID)
			events = append(events, shared.NewAchievementUnlockedEvent(
				userID, def.ID, def.Name, def.Icon, string(def.Rarity), def.RewardType,
			))
		case achievement.DecisionProgress:
			result.Progressed = append(result.Progressed, def.ID)
			if s.config.PublishProgressEvents {
				events = append(events, shared.NewAchievementProgressedEvent(
					userID, def.ID, decision.Row.Progress, def.ConditionValue,
				))
			}
		}
	}

	// Step 4: events (non-critical)
	s.stepPublishEvents(log, events)

	result.EvaluatedAt = s.now()
	log.Debug("evaluation complete",
		"completed", len(result.Completed),
		"progressed", len(result.Progressed),
		"failed", len(result.Failed),
		"unchanged", result.Unchanged,
		"duration", result.EvaluatedAt.Sub(started),
	)

	return result, nil
}

// Trigger schedules a fire-and-forget evaluation. It never blocks the caller
// on the pass itself.
func (s *AchievementFlowSaga) Trigger(userID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("trigger ignored after close", "user_id", userID)
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		// Evaluate logs aborted passes itself.
		if _, err := s.Evaluate(context.Background(), userID); err != nil && !errors.Is(err, shared.ErrEvaluationAborted) {
			s.logger.Warn("triggered evaluation failed", "user_id", userID, "error", err)
		}
	}()
}

// Close stops accepting triggers and waits for in-flight passes or ctx.
func (s *AchievementFlowSaga) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("achievement flow: waiting for in-flight evaluations: %w", ctx.Err())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepFetchStats performs the four reads concurrently. The first failure
// cancels the others.
func (s *AchievementFlowSaga) stepFetchStats(ctx context.Context, userID string) (*fetched, error) {
	var data fetched
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		posts, err := s.stats.FetchPosts(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch posts: %w", err)
		}
		data.posts = posts
		return nil
	})
	g.Go(func() error {
		exp, err := s.stats.FetchExperience(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch experience: %w", err)
		}
		data.exp = exp
		return nil
	})
	g.Go(func() error {
		catalog, err := s.stats.FetchCatalog(gctx)
		if err != nil {
			return fmt.Errorf("fetch catalog: %w", err)
		}
		data.catalog = catalog
		return nil
	})
	g.Go(func() error {
		progress, err := s.stats.FetchUserProgress(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch user progress: %w", err)
		}
		data.progress = progress
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &data, nil
}

// stepPublishEvents publishes events; failures are logged only.
func (s *AchievementFlowSaga) stepPublishEvents(log *slog.Logger, events []shared.Event) {
	for _, ev := range events {
		if err := s.eventBus.Publish(ev); err != nil {
			log.Warn("failed to publish event",
				"event_type", ev.EventType(),
				"error", err,
			)
		}
	}
}

func (s *AchievementFlowSaga) abort(step AchievementFlowStep, userID string, cause error) error {
	return &AchievementFlowError{
		Step:    step,
		UserID:  userID,
		Cause:   cause,
		Aborted: true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowError represents an error that occurred during the achievement flow.
type AchievementFlowError struct {
	Step    AchievementFlowStep
	UserID  string
	Cause   error
	Aborted bool
}

// Error implements the error interface.
func (e *AchievementFlowError) Error() string {
	return fmt.Sprintf("achievement flow failed at step %s for user %s: %v", e.Step, e.UserID, e.Cause)
}

// Unwrap returns the cause and, for aborted passes, shared.ErrEvaluationAborted.
func (e *AchievementFlowError) Unwrap() []error {
	if e.Aborted {
		return []error{shared.ErrEvaluationAborted, e.Cause}
	}
	return []error{e.Cause}
}
