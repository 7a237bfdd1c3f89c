package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkquest/inkquest/internal/domain/progression"
)

func TestStaleExperienceQueryChecksBothCachedFields(t *testing.T) {
	assert.Contains(t, staleExperienceQuery, "current_level <> formula.lvl")
	assert.Contains(t, staleExperienceQuery, "OR xp_to_next_level <> formula.lvl * formula.lvl * 100 - total_xp")
}

// The SQL expressions must agree with the domain formulas for every total,
// including the exact level boundaries.
func TestStaleExperienceFormulaMatchesDomain(t *testing.T) {
	for _, xp := range []int64{0, 1, 99, 100, 101, 399, 400, 899, 900, 10_000, 1_234_567} {
		lvl := isqrtFloor(xp/100) + 1
		assert.Equal(t, progression.LevelFromXP(xp), int(lvl), "level for %d", xp)
		assert.Equal(t, progression.XPToNextLevel(xp), lvl*lvl*100-xp, "xp to next for %d", xp)
	}
}

func isqrtFloor(n int64) int64 {
	r := int64(0)
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
