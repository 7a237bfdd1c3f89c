package achievement

import (
	"context"
	"time"

	"github.com/inkquest/inkquest/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// StatsProvider - внешнее хранилище, из которого оценщик читает статистику
// и в которое пишет прогресс.
type StatsProvider interface {
	// FetchPosts возвращает все посты пользователя (черновики и опубликованные).
	FetchPosts(ctx context.Context, userID string) ([]Post, error)

	// FetchExperience возвращает запись опыта или (nil, nil), если её нет.
	FetchExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error)

	// FetchCatalog возвращает весь каталог достижений.
	FetchCatalog(ctx context.Context) ([]Definition, error)

	// FetchUserProgress возвращает все строки прогресса пользователя.
	FetchUserProgress(ctx context.Context, userID string) ([]UserAchievementProgress, error)

	// UpsertProgress записывает строку по ключу (UserID, AchievementID).
	// Это set-операция; завершённая строка не перезаписывается.
	// written = false, если строка уже была завершена и запись пропущена.
	UpsertProgress(ctx context.Context, row UserAchievementProgress) (written bool, err error)
}

// CatalogRepository - сидирование каталога.
type CatalogRepository interface {
	// UpsertDefinitions записывает определения по ID.
	UpsertDefinitions(ctx context.Context, defs []Definition) (int, error)
}

// ActivityFeed находит пользователей, чьи посты менялись недавно.
type ActivityFeed interface {
	ListActiveAuthors(ctx context.Context, since time.Time, limit int) ([]string, error)
}
