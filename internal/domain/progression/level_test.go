package progression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromXP_Boundaries(t *testing.T) {
	tests := []struct {
		xp   int64
		want int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{899, 3},
		{900, 4},
		{-50, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromXP(tt.xp), "xp=%d", tt.xp)
	}
}

func TestLevelFromXP_FloorBelongsToLevel(t *testing.T) {
	for level := 1; level <= 2000; level++ {
		floor := FloorXP(level)
		ceiling := CeilingXP(level)

		assert.Equal(t, level, LevelFromXP(floor), "floor of level %d", level)
		assert.Equal(t, level, LevelFromXP(ceiling-1), "last xp of level %d", level)
		assert.Equal(t, level+1, LevelFromXP(ceiling), "ceiling of level %d", level)
	}
}

func TestLevelFromXP_LargeTotals(t *testing.T) {
	level := 3_000_000
	assert.Equal(t, level, LevelFromXP(FloorXP(level)))
	assert.Equal(t, level, LevelFromXP(CeilingXP(level)-1))
	assert.GreaterOrEqual(t, LevelFromXP(math.MaxInt64), 1)
}

func TestLevelFromXP_Monotonic(t *testing.T) {
	prev := LevelFromXP(0)
	for xp := int64(1); xp <= 250_000; xp += 7 {
		got := LevelFromXP(xp)
		assert.GreaterOrEqual(t, got, prev, "xp=%d", xp)
		prev = got
	}
}

func TestProgressWithinLevel_Bounds(t *testing.T) {
	for xp := int64(0); xp <= 50_000; xp += 13 {
		level := LevelFromXP(xp)
		pct := ProgressWithinLevel(xp, level)
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
	}
}

func TestProgressWithinLevel_StaleLevelIsClamped(t *testing.T) {
	// level 1 cached while the user is really at level 3
	assert.Equal(t, 100.0, ProgressWithinLevel(450, 1))
	// level 5 cached while the user is really at level 2
	assert.Equal(t, 0.0, ProgressWithinLevel(150, 5))
}

func TestProgressWithinLevel_Values(t *testing.T) {
	assert.Equal(t, 0.0, ProgressWithinLevel(0, 1))
	assert.Equal(t, 50.0, ProgressWithinLevel(50, 1))
	assert.Equal(t, 0.0, ProgressWithinLevel(100, 2))
	assert.Equal(t, 50.0, ProgressWithinLevel(250, 2))
}

func TestXPToNextLevel(t *testing.T) {
	assert.Equal(t, int64(100), XPToNextLevel(0))
	assert.Equal(t, int64(1), XPToNextLevel(99))
	assert.Equal(t, int64(300), XPToNextLevel(100))
	assert.Equal(t, int64(100), XPToNextLevel(-10))
}

func TestDescribe(t *testing.T) {
	info := Describe(250)

	assert.Equal(t, LevelInfo{
		Level:           2,
		TotalXP:         250,
		FloorXP:         100,
		CeilingXP:       400,
		XPIntoLevel:     150,
		XPToNextLevel:   150,
		ProgressPercent: 50,
	}, info)
}
