package progression

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// XPPerLevelUnit - множитель квадратичной кривой: потолок уровня L равен L² × 100.
const XPPerLevelUnit int64 = 100

// MinLevel - уровень нового пользователя.
const MinLevel = 1

// LevelInfo - полностью вычисленное состояние уровня для заданного XP.
type LevelInfo struct {
	// Level - текущий уровень (≥ 1).
	Level int `json:"level"`

	// TotalXP - общий опыт, из которого вычислен уровень.
	TotalXP int64 `json:"total_xp"`

	// FloorXP - XP, с которого начинается текущий уровень.
	FloorXP int64 `json:"floor_xp"`

	// CeilingXP - XP, с которого начинается следующий уровень.
	CeilingXP int64 `json:"ceiling_xp"`

	// XPIntoLevel - сколько XP набрано внутри текущего уровня.
	XPIntoLevel int64 `json:"xp_into_level"`

	// XPToNextLevel - сколько XP осталось до следующего уровня.
	XPToNextLevel int64 `json:"xp_to_next_level"`

	// ProgressPercent - прогресс внутри уровня, [0, 100].
	ProgressPercent float64 `json:"progress_percent"`
}

// LevelFromXP возвращает уровень для общего XP.
// Граница (L-1)² × 100 принадлежит уровню L. Отрицательный XP считается нулём.
func LevelFromXP(totalXP int64) int {
	if totalXP < XPPerLevelUnit {
		return MinLevel
	}
	// (L-1)² × 100 ≤ xp  ⇔  (L-1)² ≤ ⌊xp / 100⌋
	return int(isqrt(totalXP/XPPerLevelUnit)) + 1
}

// FloorXP возвращает XP начала уровня: (L-1)² × 100.
func FloorXP(level int) int64 {
	if level < MinLevel {
		level = MinLevel
	}
	l := int64(level - 1)
	return l * l * XPPerLevelUnit
}

// CeilingXP возвращает XP начала следующего уровня: L² × 100.
func CeilingXP(level int) int64 {
	if level < MinLevel {
		level = MinLevel
	}
	l := int64(level)
	return l * l * XPPerLevelUnit
}

// ProgressWithinLevel возвращает процент прохождения уровня level при totalXP.
// level может быть устаревшим кешем, поэтому результат всегда ограничен [0, 100].
func ProgressWithinLevel(totalXP int64, level int) float64 {
	if totalXP < 0 {
		totalXP = 0
	}
	floor := FloorXP(level)
	span := CeilingXP(level) - floor
	if span <= 0 {
		return 0
	}
	pct := float64(totalXP-floor) * 100 / float64(span)
	return clamp(pct, 0, 100)
}

// XPToNextLevel возвращает остаток XP до следующего уровня (не меньше 0).
func XPToNextLevel(totalXP int64) int64 {
	if totalXP < 0 {
		totalXP = 0
	}
	remaining := CeilingXP(LevelFromXP(totalXP)) - totalXP
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Describe вычисляет LevelInfo напрямую из totalXP, не доверяя кешу.
func Describe(totalXP int64) LevelInfo {
	if totalXP < 0 {
		totalXP = 0
	}
	level := LevelFromXP(totalXP)
	floor := FloorXP(level)
	return LevelInfo{
		Level:           level,
		TotalXP:         totalXP,
		FloorXP:         floor,
		CeilingXP:       CeilingXP(level),
		XPIntoLevel:     totalXP - floor,
		XPToNextLevel:   XPToNextLevel(totalXP),
		ProgressPercent: ProgressWithinLevel(totalXP, level),
	}
}

// isqrt - целочисленный квадратный корень; float-приближение подправляется,
// чтобы границы уровней были точными на больших значениях.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r := int64(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
