package progression

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// XPEvent - строка аудита начислений.
type XPEvent struct {
	ID        string
	UserID    string
	Category  XPCategory
	Amount    int64
	Reason    string
	CreatedAt time.Time
}

// ExperienceRepository определяет операции с записями опыта.
type ExperienceRepository interface {
	// GetExperience возвращает запись пользователя.
	// Отсутствие записи - нормальное состояние нового пользователя: (nil, nil).
	GetExperience(ctx context.Context, userID string) (*ExperienceRecord, error)

	// UpsertExperience записывает запись целиком (set, не инкремент).
	UpsertExperience(ctx context.Context, record *ExperienceRecord) error

	// ApplyExperience атомарно читает запись (создавая пустую при отсутствии),
	// применяет fn и сохраняет результат. Если fn вернула ошибку, ничего не пишется.
	ApplyExperience(ctx context.Context, userID string, now time.Time, fn func(*ExperienceRecord) error) (*ExperienceRecord, error)

	// AppendXPEvent добавляет строку в журнал начислений.
	AppendXPEvent(ctx context.Context, event XPEvent) error

	// ResetUser обнуляет опыт и удаляет весь прогресс достижений пользователя.
	ResetUser(ctx context.Context, userID string, now time.Time) error

	// ListStaleExperience возвращает записи, у которых кешированный
	// уровень расходится с формулой.
	ListStaleExperience(ctx context.Context, limit int) ([]*ExperienceRecord, error)
}
