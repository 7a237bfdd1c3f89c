package achievement

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

func validDefinition() Definition {
	return Definition{
		ID:             "first-post",
		Name:           "First Post",
		Icon:           "✍️",
		Category:       CategoryWriting,
		ConditionType:  "posts_count",
		ConditionValue: 1,
		RewardType:     "xp",
		RewardData:     json.RawMessage(`{"xp":25}`),
		Rarity:         RarityCommon,
	}
}

func TestDefinition_Validate(t *testing.T) {
	require.NoError(t, validDefinition().Validate())

	unknown := validDefinition()
	unknown.ConditionType = "streak_days"
	assert.NoError(t, unknown.Validate(), "unknown condition types are accepted")
	assert.Equal(t, ConditionUnknown, unknown.Kind())
}

func TestDefinition_ValidateCollectsProblems(t *testing.T) {
	d := validDefinition()
	d.Name = ""
	d.Rarity = "mythic"
	d.ConditionValue = 0
	d.RewardData = json.RawMessage(`{`)

	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidDefinition)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "name is empty")
	assert.Contains(t, err.Error(), "unknown rarity mythic")
	assert.Contains(t, err.Error(), "condition_value must be positive")
	assert.Contains(t, err.Error(), "reward_data")
}

func TestRarity_Rank(t *testing.T) {
	assert.Less(t, RarityCommon.Rank(), RarityRare.Rank())
	assert.Less(t, RarityEpic.Rank(), RarityLegendary.Rank())
	assert.False(t, Rarity("").IsValid())
}

func TestUserAchievementProgress_Percent(t *testing.T) {
	assert.Equal(t, 60.0, UserAchievementProgress{Progress: 3}.Percent(5))
	assert.Equal(t, 100.0, UserAchievementProgress{Progress: 3, Completed: true}.Percent(5))
	assert.Equal(t, 0.0, UserAchievementProgress{}.Percent(5))
	assert.Equal(t, 100.0, UserAchievementProgress{Progress: 9}.Percent(5))
}
