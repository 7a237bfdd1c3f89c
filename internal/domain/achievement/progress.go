package achievement

import "time"

// UserAchievementProgress - прогресс пользователя по одному достижению.
// Ключ - (UserID, AchievementID).
type UserAchievementProgress struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`

	// Progress - последнее измеренное значение условия.
	// После завершения закреплено на ConditionValue.
	Progress int64 `json:"progress"`

	// Completed - true после первой записи завершения; дальше строка заморожена.
	Completed bool `json:"completed"`

	// CompletedAt - момент перехода false → true. Очищается только полным сбросом.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IndexProgress строит индекс прогресса по AchievementID.
func IndexProgress(rows []UserAchievementProgress) map[string]UserAchievementProgress {
	idx := make(map[string]UserAchievementProgress, len(rows))
	for _, r := range rows {
		idx[r.AchievementID] = r
	}
	return idx
}

// Percent возвращает процент выполнения относительно порога, [0, 100].
func (p UserAchievementProgress) Percent(target int64) float64 {
	if p.Completed {
		return 100
	}
	if target <= 0 || p.Progress <= 0 {
		return 0
	}
	pct := float64(p.Progress) * 100 / float64(target)
	if pct > 100 {
		return 100
	}
	return pct
}
