package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractorsCoverEveryKind(t *testing.T) {
	for k := ConditionUnknown; k < numConditionKinds; k++ {
		assert.NotNil(t, extractors[k], "kind %d has no extractor", k)
		assert.NotEmpty(t, conditionNames[k], "kind %d has no name", k)
	}
}

func TestParseConditionKind_RoundTrip(t *testing.T) {
	for _, k := range KnownConditionKinds() {
		assert.Equal(t, k, ParseConditionKind(k.String()))
		assert.True(t, k.Known())
	}
}

func TestParseConditionKind_Unknown(t *testing.T) {
	for _, s := range []string{"", "unknown", "comments_count", "POSTS_COUNT"} {
		k := ParseConditionKind(s)
		assert.Equal(t, ConditionUnknown, k, s)
		assert.False(t, k.Known())
	}
}

func TestConditionKind_Extract(t *testing.T) {
	snap := UserStatsSnapshot{
		PublishedPostCount:    4,
		TotalLikes:            31,
		TotalViews:            512,
		DistinctCategoryCount: 3,
		CurrentLevel:          6,
	}

	assert.Equal(t, int64(4), ConditionPostsCount.Extract(snap))
	assert.Equal(t, int64(31), ConditionTotalLikes.Extract(snap))
	assert.Equal(t, int64(512), ConditionTotalViews.Extract(snap))
	assert.Equal(t, int64(3), ConditionCategoriesUsed.Extract(snap))
	assert.Equal(t, int64(6), ConditionLevelReached.Extract(snap))
	assert.Equal(t, int64(0), ConditionUnknown.Extract(snap))
	assert.Equal(t, int64(0), ConditionKind(99).Extract(snap))
	assert.Equal(t, "unknown", ConditionKind(-1).String())
}
