package achievement

import "time"

// DecisionKind - результат оценки одного достижения.
type DecisionKind int

const (
	// DecisionNone - ничего не записывать.
	DecisionNone DecisionKind = iota
	// DecisionProgress - записать новый прогресс, Completed остаётся false.
	DecisionProgress
	// DecisionComplete - записать завершение.
	DecisionComplete
)

// String implements fmt.Stringer.
func (k DecisionKind) String() string {
	switch k {
	case DecisionProgress:
		return "progress"
	case DecisionComplete:
		return "complete"
	}
	return "none"
}

// Decision - решение по одному достижению и строка для upsert.
type Decision struct {
	Kind DecisionKind

	// Current - измеренное значение условия (для логов и событий).
	Current int64

	// Row - что записать. Заполнено только для Progress и Complete.
	Row UserAchievementProgress
}

// Decide решает, что записать для достижения def.
//
//  1. уже завершено → ничего (строка заморожена)
//  2. неизвестный тип условия → ничего
//  3. текущее ≥ порога → завершение с Progress = ConditionValue
//  4. текущее > 0 и отличается от сохранённого → прогресс
//  5. иначе ничего
func Decide(userID string, def Definition, snap UserStatsSnapshot, existing *UserAchievementProgress, now time.Time) Decision {
	if existing != nil && existing.Completed {
		return Decision{Kind: DecisionNone}
	}

	kind := def.Kind()
	if !kind.Known() {
		return Decision{Kind: DecisionNone}
	}

	current := kind.Extract(snap)

	if current >= def.ConditionValue {
		completedAt := now
		return Decision{
			Kind:    DecisionComplete,
			Current: current,
			Row: UserAchievementProgress{
				UserID:        userID,
				AchievementID: def.ID,
				Progress:      def.ConditionValue,
				Completed:     true,
				CompletedAt:   &completedAt,
				UpdatedAt:     now,
			},
		}
	}

	if current > 0 && (existing == nil || existing.Progress != current) {
		return Decision{
			Kind:    DecisionProgress,
			Current: current,
			Row: UserAchievementProgress{
				UserID:        userID,
				AchievementID: def.ID,
				Progress:      current,
				UpdatedAt:     now,
			},
		}
	}

	return Decision{Kind: DecisionNone, Current: current}
}
