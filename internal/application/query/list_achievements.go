package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkquest/inkquest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERY
// Каталог достижений вместе с прогрессом пользователя - для страницы наград.
// ══════════════════════════════════════════════════════════════════════════════

// ListAchievementsQuery содержит параметры запроса.
type ListAchievementsQuery struct {
	UserID string

	// OnlyCompleted - вернуть только полученные достижения.
	OnlyCompleted bool
}

// AchievementDTO - достижение каталога с прогрессом пользователя.
type AchievementDTO struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Icon        string               `json:"icon"`
	Category    achievement.Category `json:"category"`
	Rarity      achievement.Rarity   `json:"rarity"`

	ConditionType string `json:"condition_type"`
	Target        int64  `json:"target"`

	Progress    int64      `json:"progress"`
	Percent     float64    `json:"percent"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Supported - false для типов условий, которые сервис ещё не считает.
	Supported bool `json:"supported"`
}

// CatalogReader - часть StatsProvider, нужная запросу.
type CatalogReader interface {
	FetchCatalog(ctx context.Context) ([]achievement.Definition, error)
	FetchUserProgress(ctx context.Context, userID string) ([]achievement.UserAchievementProgress, error)
}

// ListAchievementsHandler обрабатывает ListAchievementsQuery.
type ListAchievementsHandler struct {
	stats CatalogReader
}

// NewListAchievementsHandler создаёт обработчик.
func NewListAchievementsHandler(stats CatalogReader) *ListAchievementsHandler {
	return &ListAchievementsHandler{stats: stats}
}

// Handle выполняет запрос.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) ([]AchievementDTO, error) {
	if err := validateUserID(q.UserID); err != nil {
		return nil, fmt.Errorf("list_achievements: %w", err)
	}

	var (
		catalog []achievement.Definition
		rows    []achievement.UserAchievementProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, err = h.stats.FetchCatalog(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = h.stats.FetchUserProgress(gctx, q.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list_achievements: %w", err)
	}

	progress := achievement.IndexProgress(rows)
	out := make([]AchievementDTO, 0, len(catalog))
	for _, def := range catalog {
		row := progress[def.ID]
		if q.OnlyCompleted && !row.Completed {
			continue
		}
		out = append(out, AchievementDTO{
			ID:            def.ID,
			Name:          def.Name,
			Description:   def.Description,
			Icon:          def.Icon,
			Category:      def.Category,
			Rarity:        def.Rarity,
			ConditionType: def.ConditionType,
			Target:        def.ConditionValue,
			Progress:      row.Progress,
			Percent:       row.Percent(def.ConditionValue),
			Completed:     row.Completed,
			CompletedAt:   row.CompletedAt,
			Supported:     def.Kind().Known(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ca, cb := categoryOrder(a.Category), categoryOrder(b.Category); ca != cb {
			return ca < cb
		}
		if ra, rb := a.Rarity.Rank(), b.Rarity.Rank(); ra != rb {
			return ra < rb
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.ID < b.ID
	})

	return out, nil
}

func categoryOrder(c achievement.Category) int {
	switch c {
	case achievement.CategoryWriting:
		return 0
	case achievement.CategoryEngagement:
		return 1
	case achievement.CategoryConsistency:
		return 2
	case achievement.CategoryLearning:
		return 3
	case achievement.CategorySpecial:
		return 4
	}
	return 5
}
