package progression

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewExperienceRecord(t *testing.T) {
	r := NewExperienceRecord("u1", testNow)

	assert.Equal(t, int64(0), r.TotalXP)
	assert.Equal(t, 1, r.CurrentLevel)
	assert.Equal(t, int64(100), r.XPToNextLevel)
	assert.False(t, r.Stale())
}

func TestExperienceRecord_Award(t *testing.T) {
	r := NewExperienceRecord("u1", testNow)

	out, err := r.Award(CategoryWriting, 90, testNow)
	require.NoError(t, err)
	assert.False(t, out.LeveledUp())
	assert.Equal(t, int64(90), r.WritingXP)

	later := testNow.Add(time.Minute)
	out, err = r.Award(CategoryEngagement, 10, later)
	require.NoError(t, err)
	assert.True(t, out.LeveledUp())
	assert.Equal(t, 1, out.OldLevel)
	assert.Equal(t, 2, out.NewLevel)
	assert.Equal(t, int64(100), out.NewTotal)
	assert.Equal(t, int64(300), r.XPToNextLevel)
	assert.Equal(t, int64(10), r.CategoryXP(CategoryEngagement))
	assert.Equal(t, later, r.UpdatedAt)
}

func TestExperienceRecord_AwardRejectsBadInput(t *testing.T) {
	r := NewExperienceRecord("u1", testNow)

	_, err := r.Award("gardening", 10, testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidXPCategory)

	_, err = r.Award(CategoryWriting, 0, testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidXPAmount)

	r.TotalXP = math.MaxInt64 - 5
	_, err = r.Award(CategoryWriting, 10, testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidXPAmount)
}

func TestExperienceRecord_StaleAndRefresh(t *testing.T) {
	r := &ExperienceRecord{UserID: "u1", TotalXP: 450, CurrentLevel: 1, XPToNextLevel: 0}

	assert.True(t, r.Stale())
	assert.Equal(t, 3, r.Level())

	r.Refresh()
	assert.False(t, r.Stale())
	assert.Equal(t, 3, r.CurrentLevel)
	assert.Equal(t, int64(450), r.XPToNextLevel)
}

func TestExperienceRecord_AwardUsesCanonicalOldLevel(t *testing.T) {
	// cached level says 1, canonical level is 3
	r := &ExperienceRecord{UserID: "u1", TotalXP: 450, CurrentLevel: 1}

	out, err := r.Award(CategoryLearning, 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, out.OldLevel)
	assert.False(t, out.LeveledUp())
}

func TestExperienceRecord_Reset(t *testing.T) {
	r := NewExperienceRecord("u1", testNow)
	_, err := r.Award(CategoryConsistency, 1200, testNow)
	require.NoError(t, err)

	r.Reset(testNow)

	assert.Equal(t, int64(0), r.TotalXP)
	assert.Equal(t, int64(0), r.ConsistencyXP)
	assert.Equal(t, 1, r.CurrentLevel)
	assert.Equal(t, int64(100), r.XPToNextLevel)
}

func TestExperienceRecord_NilLevel(t *testing.T) {
	var r *ExperienceRecord
	assert.Equal(t, 1, r.Level())
	assert.Nil(t, r.Clone())
}

func TestParseXPCategory(t *testing.T) {
	for _, c := range XPCategories() {
		got, err := ParseXPCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseXPCategory("special")
	assert.True(t, shared.IsValidation(err))
}
