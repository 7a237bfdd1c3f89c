package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/memory"
)

const userID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

// mapCache stores JSON like the Redis cache does.
type mapCache struct {
	data    map[string][]byte
	readErr error
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) GetLevel(_ context.Context, userID string, dst interface{}) (bool, error) {
	if c.readErr != nil {
		return false, c.readErr
	}
	raw, ok := c.data[userID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *mapCache) SetLevel(_ context.Context, userID string, view interface{}) error {
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	c.data[userID] = raw
	return nil
}

func TestGetLevel_NewUser(t *testing.T) {
	h := NewGetLevelHandler(memory.NewStore(), nil, nil)

	dto, err := h.Handle(context.Background(), GetLevelQuery{UserID: userID})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.Level)
	assert.Equal(t, int64(0), dto.TotalXP)
	assert.Equal(t, int64(100), dto.XPToNextLevel)
	assert.Equal(t, 0.0, dto.ProgressPercent)
	assert.False(t, dto.Stale)
	assert.Nil(t, dto.UpdatedAt)
	assert.Len(t, dto.Categories, 4)
}

func TestGetLevel_RecomputesStaleLevel(t *testing.T) {
	store := memory.NewStore()
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.UpsertExperience(context.Background(), &progression.ExperienceRecord{
		UserID: userID, TotalXP: 450, CurrentLevel: 1, WritingXP: 300, LearningXP: 20, UpdatedAt: updated,
	}))
	h := NewGetLevelHandler(store, nil, nil)

	dto, err := h.Handle(context.Background(), GetLevelQuery{UserID: userID})
	require.NoError(t, err)

	assert.Equal(t, 3, dto.Level)
	assert.Equal(t, 1, dto.CachedLevel)
	assert.True(t, dto.Stale)
	assert.Equal(t, int64(450), dto.XPToNextLevel)
	assert.InDelta(t, 10.0, dto.ProgressPercent, 1e-9)
	assert.Equal(t, int64(300), dto.Categories[progression.CategoryWriting])
	require.NotNil(t, dto.UpdatedAt)
	assert.Equal(t, updated, *dto.UpdatedAt)
}

func TestGetLevel_ReadsThroughCache(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.UpsertExperience(context.Background(), &progression.ExperienceRecord{
		UserID: userID, TotalXP: 120, CurrentLevel: 2,
	}))
	cache := newMapCache()
	h := NewGetLevelHandler(store, cache, nil)

	first, err := h.Handle(context.Background(), GetLevelQuery{UserID: userID})
	require.NoError(t, err)
	require.Contains(t, cache.data, userID)

	// store failures are invisible while the cache is warm
	store.FailOn(memory.OpFetchExperience, errors.New("down"))
	second, err := h.Handle(context.Background(), GetLevelQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, first.LevelInfo, second.LevelInfo)

	_, err = h.Handle(context.Background(), GetLevelQuery{UserID: userID, SkipCache: true})
	assert.Error(t, err)
}

func TestGetLevel_CacheReadErrorFallsBack(t *testing.T) {
	cache := newMapCache()
	cache.readErr = errors.New("redis: connection refused")
	h := NewGetLevelHandler(memory.NewStore(), cache, nil)

	dto, err := h.Handle(context.Background(), GetLevelQuery{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, 1, dto.Level)
}

func TestGetLevel_InvalidUser(t *testing.T) {
	h := NewGetLevelHandler(memory.NewStore(), nil, nil)

	_, err := h.Handle(context.Background(), GetLevelQuery{UserID: "me"})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestListAchievements(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	_, err := store.UpsertDefinitions(ctx, []achievement.Definition{
		{ID: "legend", Name: "Legend", Category: achievement.CategorySpecial, Rarity: achievement.RarityLegendary, ConditionType: "level_reached", ConditionValue: 50},
		{ID: "ten-posts", Name: "Ten Posts", Category: achievement.CategoryWriting, Rarity: achievement.RarityRare, ConditionType: "posts_count", ConditionValue: 10},
		{ID: "first-post", Name: "First Post", Category: achievement.CategoryWriting, Rarity: achievement.RarityCommon, ConditionType: "posts_count", ConditionValue: 1},
		{ID: "streaker", Name: "Streaker", Category: achievement.CategoryConsistency, Rarity: achievement.RarityEpic, ConditionType: "streak_days", ConditionValue: 30},
	})
	require.NoError(t, err)

	done := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	seedProgress(t, store, achievement.UserAchievementProgress{
		UserID: userID, AchievementID: "first-post", Progress: 1, Completed: true, CompletedAt: &done,
	})
	seedProgress(t, store, achievement.UserAchievementProgress{
		UserID: userID, AchievementID: "ten-posts", Progress: 4,
	})

	h := NewListAchievementsHandler(store)
	list, err := h.Handle(ctx, ListAchievementsQuery{UserID: userID})
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"first-post", "ten-posts", "streaker", "legend"}, ids)

	assert.True(t, list[0].Completed)
	assert.Equal(t, 100.0, list[0].Percent)
	assert.Equal(t, 40.0, list[1].Percent)
	assert.False(t, list[2].Supported)
	assert.True(t, list[3].Supported)

	completed, err := h.Handle(ctx, ListAchievementsQuery{UserID: userID, OnlyCompleted: true})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "first-post", completed[0].ID)
}

func TestListAchievements_StoreFailure(t *testing.T) {
	store := memory.NewStore()
	store.FailOn(memory.OpFetchCatalog, errors.New("timeout"))

	_, err := NewListAchievementsHandler(store).Handle(context.Background(), ListAchievementsQuery{UserID: userID})
	assert.Error(t, err)
}

func seedProgress(t *testing.T, store *memory.Store, row achievement.UserAchievementProgress) {
	t.Helper()
	written, err := store.UpsertProgress(context.Background(), row)
	require.NoError(t, err)
	require.True(t, written)
}
