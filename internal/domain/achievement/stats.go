package achievement

import (
	"time"

	"github.com/inkquest/inkquest/internal/domain/progression"
)

// PostStatus - статус поста в блоге.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
)

// Post - проекция поста, нужная для статистики. Посты принадлежат блогу;
// движок прогрессии их только читает.
type Post struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"author_id"`
	Status    PostStatus `json:"status"`
	Likes     int64      `json:"likes"`
	Views     int64      `json:"views"`
	Category  string     `json:"category"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UserStatsSnapshot - агрегаты на момент одного прохода оценки. Не сохраняется.
type UserStatsSnapshot struct {
	PublishedPostCount    int64 `json:"published_post_count"`
	TotalLikes            int64 `json:"total_likes"`
	TotalViews            int64 `json:"total_views"`
	DistinctCategoryCount int64 `json:"distinct_category_count"`
	CurrentLevel          int   `json:"current_level"`
}

// NewSnapshot строит снимок из постов и записи опыта.
//
// Лайки, просмотры и категории считаются по всем постам (черновики тоже),
// опубликованные - только со статусом published. Пустая категория не считается.
// Отсутствующая запись опыта означает уровень 1; уровень всегда
// пересчитывается из TotalXP.
func NewSnapshot(posts []Post, exp *progression.ExperienceRecord) UserStatsSnapshot {
	snap := UserStatsSnapshot{CurrentLevel: exp.Level()}

	categories := make(map[string]struct{})
	for _, p := range posts {
		if p.Status == PostStatusPublished {
			snap.PublishedPostCount++
		}
		snap.TotalLikes += p.Likes
		snap.TotalViews += p.Views
		if p.Category != "" {
			categories[p.Category] = struct{}{}
		}
	}
	snap.DistinctCategoryCount = int64(len(categories))

	return snap
}
