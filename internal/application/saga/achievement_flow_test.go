package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const userID = "6f1c2a9e-4b7d-4a8e-9c3f-2d5e8b1a7c40"

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(ev shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]shared.EventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.EventType())
	}
	return out
}

func testCatalog() []achievement.Definition {
	return []achievement.Definition{
		{ID: "five-posts", Name: "Five Posts", ConditionType: "posts_count", ConditionValue: 5, Rarity: achievement.RarityCommon},
		{ID: "three-categories", Name: "Explorer", ConditionType: "categories_used", ConditionValue: 3, Rarity: achievement.RarityRare},
		{ID: "five-categories", Name: "Polymath", ConditionType: "categories_used", ConditionValue: 5, Rarity: achievement.RarityEpic},
		{ID: "first-like", Name: "First Like", ConditionType: "total_likes", ConditionValue: 1, Rarity: achievement.RarityCommon},
		{ID: "mystery", Name: "Mystery", ConditionType: "comments_count", ConditionValue: 1, Rarity: achievement.RarityLegendary},
	}
}

func newFixture(t *testing.T) (*memory.Store, *recordingBus, *AchievementFlowSaga) {
	t.Helper()

	store := memory.NewStore()
	_, err := store.UpsertDefinitions(context.Background(), testCatalog())
	require.NoError(t, err)

	bus := &recordingBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flow := NewAchievementFlowSaga(store, bus, logger, DefaultAchievementFlowConfig()).
		WithClock(func() time.Time { return fixedNow })

	return store, bus, flow
}

func publishPosts(store *memory.Store, categories ...string) {
	for i, c := range categories {
		store.PutPost(achievement.Post{
			ID:       fmt.Sprintf("post-%d", i),
			AuthorID: userID,
			Status:   achievement.PostStatusPublished,
			Category: c,
		})
	}
}

func progressByID(t *testing.T, store *memory.Store) map[string]achievement.UserAchievementProgress {
	t.Helper()
	rows, err := store.FetchUserProgress(context.Background(), userID)
	require.NoError(t, err)
	return achievement.IndexProgress(rows)
}

func TestEvaluate_EndToEndScenario(t *testing.T) {
	store, bus, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")

	result, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	want := &EvaluationResult{
		UserID: userID,
		Snapshot: achievement.UserStatsSnapshot{
			PublishedPostCount:    5,
			DistinctCategoryCount: 3,
			CurrentLevel:          1,
		},
		Completed:  []string{"five-posts", "three-categories"},
		Progressed: []string{"five-categories"},
		Unchanged:  2,
	}
	if diff := cmp.Diff(want, result, cmpopts.IgnoreFields(EvaluationResult{}, "EvaluatedAt"), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	rows := progressByID(t, store)
	require.Len(t, rows, 3)

	assert.True(t, rows["five-posts"].Completed)
	assert.Equal(t, int64(5), rows["five-posts"].Progress)
	require.NotNil(t, rows["five-posts"].CompletedAt)
	assert.Equal(t, fixedNow, *rows["five-posts"].CompletedAt)

	assert.True(t, rows["three-categories"].Completed)
	assert.Equal(t, int64(3), rows["three-categories"].Progress)

	assert.False(t, rows["five-categories"].Completed)
	assert.Equal(t, int64(3), rows["five-categories"].Progress)
	assert.Nil(t, rows["five-categories"].CompletedAt)

	assert.ElementsMatch(t, []shared.EventType{
		shared.EventAchievementProgressed,
		shared.EventAchievementUnlocked,
		shared.EventAchievementUnlocked,
	}, bus.types())
}

func TestEvaluate_Idempotent(t *testing.T) {
	store, _, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")

	_, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	before := progressByID(t, store)
	writes := store.ProgressWrites()

	second, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.False(t, second.HasChanges())
	assert.Equal(t, len(testCatalog()), second.Unchanged)
	assert.Equal(t, writes, store.ProgressWrites(), "second pass must not write")
	assert.Equal(t, before, progressByID(t, store))
}

func TestEvaluate_CompletionFreeze(t *testing.T) {
	store, _, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")

	_, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	frozen := progressByID(t, store)["five-posts"]

	for i := 0; i < 5; i++ {
		store.DeletePost(userID, fmt.Sprintf("post-%d", i))
	}
	flow.WithClock(func() time.Time { return fixedNow.Add(24 * time.Hour) })

	_, err = flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, frozen, progressByID(t, store)["five-posts"])
}

func TestEvaluate_ThresholdExactness(t *testing.T) {
	store, _, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "ai", "ai")

	_, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	row := progressByID(t, store)["five-posts"]
	assert.False(t, row.Completed)
	assert.Equal(t, int64(4), row.Progress)

	store.PutPost(achievement.Post{ID: "post-4", AuthorID: userID, Status: achievement.PostStatusPublished, Category: "ai"})

	result, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.Contains(t, result.Completed, "five-posts")
	assert.True(t, progressByID(t, store)["five-posts"].Completed)
}

func TestEvaluate_DraftsDoNotCountAsPublished(t *testing.T) {
	store, _, flow := newFixture(t)
	for i := 0; i < 5; i++ {
		store.PutPost(achievement.Post{
			ID: fmt.Sprintf("draft-%d", i), AuthorID: userID,
			Status: achievement.PostStatusDraft, Likes: 2, Category: "ai",
		})
	}

	result, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Snapshot.PublishedPostCount)
	assert.Equal(t, int64(10), result.Snapshot.TotalLikes)
	assert.Contains(t, result.Completed, "first-like")
	assert.NotContains(t, progressByID(t, store), "five-posts")
}

func TestEvaluate_UnknownConditionNeverWritten(t *testing.T) {
	store, _, flow := newFixture(t)
	publishPosts(store, "ai", "b", "c", "d", "e", "f")
	require.NoError(t, store.UpsertExperience(context.Background(), &progression.ExperienceRecord{UserID: userID, TotalXP: 100_000}))

	_, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.NotContains(t, progressByID(t, store), "mystery")
}

func TestEvaluate_LevelReachedUsesCanonicalLevel(t *testing.T) {
	store, _, flow := newFixture(t)
	_, err := store.UpsertDefinitions(context.Background(), []achievement.Definition{
		{ID: "level-3", Name: "Level 3", ConditionType: "level_reached", ConditionValue: 3, Rarity: achievement.RarityRare},
	})
	require.NoError(t, err)
	// stale cache: stored level 1, real level 3
	require.NoError(t, store.UpsertExperience(context.Background(), &progression.ExperienceRecord{
		UserID: userID, TotalXP: 450, CurrentLevel: 1,
	}))

	result, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Snapshot.CurrentLevel)
	assert.Contains(t, result.Completed, "level-3")
}

func TestEvaluate_ReadFailureAbortsWithoutWrites(t *testing.T) {
	ops := []string{
		memory.OpFetchPosts,
		memory.OpFetchExperience,
		memory.OpFetchCatalog,
		memory.OpFetchUserProgress,
	}

	for _, op := range ops {
		t.Run(op, func(t *testing.T) {
			store, bus, flow := newFixture(t)
			publishPosts(store, "ai", "ai", "python", "python", "travel")
			boom := errors.New("connection refused")
			store.FailOn(op, boom)

			result, err := flow.Evaluate(context.Background(), userID)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, shared.ErrEvaluationAborted)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, 0, store.ProgressWrites())
			assert.Empty(t, bus.types())

			var flowErr *AchievementFlowError
			require.ErrorAs(t, err, &flowErr)
			assert.Equal(t, StepFetchStats, flowErr.Step)
		})
	}
}

func TestEvaluate_WriteFailureContinues(t *testing.T) {
	store, bus, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")
	store.FailUpsertFor("five-posts", errors.New("deadlock detected"))

	result, err := flow.Evaluate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, []string{"five-posts"}, result.Failed)
	assert.Equal(t, []string{"three-categories"}, result.Completed)
	assert.Equal(t, []string{"five-categories"}, result.Progressed)

	rows := progressByID(t, store)
	assert.NotContains(t, rows, "five-posts")
	assert.True(t, rows["three-categories"].Completed)
	assert.Len(t, bus.types(), 2)
}

type stalledProvider struct {
	*memory.Store
}

func (p stalledProvider) FetchCatalog(ctx context.Context) ([]achievement.Definition, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEvaluate_TimeoutAborts(t *testing.T) {
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flow := NewAchievementFlowSaga(stalledProvider{store}, nil, logger, AchievementFlowConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := flow.Evaluate(context.Background(), userID)

	assert.ErrorIs(t, err, shared.ErrEvaluationAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEvaluate_RejectsInvalidUserID(t *testing.T) {
	_, _, flow := newFixture(t)

	_, err := flow.Evaluate(context.Background(), "not-a-uuid")

	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
	assert.False(t, errors.Is(err, shared.ErrEvaluationAborted))
	assert.True(t, shared.IsValidation(err))
}

func TestTrigger_RunsInBackgroundAndCloseDrains(t *testing.T) {
	store, _, flow := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")

	flow.Trigger(userID)
	flow.Trigger(userID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, flow.Close(ctx))

	rows := progressByID(t, store)
	assert.True(t, rows["five-posts"].Completed)
	assert.True(t, rows["three-categories"].Completed)

	writes := store.ProgressWrites()
	flow.Trigger(userID)
	assert.Equal(t, writes, store.ProgressWrites(), "trigger after close is ignored")
}

// lockstepProvider holds every pass after its progress read until all passes
// have read, so they decide on the same stale rows.
type lockstepProvider struct {
	*memory.Store
	read *sync.WaitGroup
}

func (p lockstepProvider) FetchUserProgress(ctx context.Context, userID string) ([]achievement.UserAchievementProgress, error) {
	rows, err := p.Store.FetchUserProgress(ctx, userID)
	p.read.Done()
	p.read.Wait()
	return rows, err
}

func TestEvaluate_OverlappingPassesUnlockOnce(t *testing.T) {
	store, bus, _ := newFixture(t)
	publishPosts(store, "ai", "ai", "python", "python", "travel")

	const passes = 2
	var read sync.WaitGroup
	read.Add(passes)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	flow := NewAchievementFlowSaga(lockstepProvider{Store: store, read: &read}, bus, logger, DefaultAchievementFlowConfig()).
		WithClock(func() time.Time { return fixedNow })

	results := make([]*EvaluationResult, passes)
	var wg sync.WaitGroup
	for i := range passes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := flow.Evaluate(context.Background(), userID)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	var completed []string
	unchanged := 0
	for _, res := range results {
		require.NotNil(t, res)
		completed = append(completed, res.Completed...)
		unchanged += res.Unchanged
	}
	assert.ElementsMatch(t, []string{"five-posts", "three-categories"}, completed)
	assert.Equal(t, 2*2+2, unchanged, "the losing pass counts skipped completions as unchanged")

	unlocked := 0
	for _, typ := range bus.types() {
		if typ == shared.EventAchievementUnlocked {
			unlocked++
		}
	}
	assert.Equal(t, 2, unlocked)
	assert.True(t, progressByID(t, store)["five-posts"].Completed)
}
