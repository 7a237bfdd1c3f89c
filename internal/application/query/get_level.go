// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkquest/inkquest/internal/domain/progression"
	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEVEL QUERY
// Уровень пользователя для виджета профиля. Уровень всегда пересчитывается
// из TotalXP; кешированное поле записи только сравнивается для флага Stale.
// ══════════════════════════════════════════════════════════════════════════════

// GetLevelQuery содержит параметры запроса уровня.
type GetLevelQuery struct {
	// UserID - идентификатор пользователя (UUID).
	UserID string

	// SkipCache - читать напрямую из хранилища.
	SkipCache bool
}

// LevelDTO - DTO уровня пользователя.
type LevelDTO struct {
	UserID string `json:"user_id"`

	progression.LevelInfo

	// CachedLevel - значение current_level из записи.
	CachedLevel int `json:"cached_level"`

	// Stale - кешированный уровень расходится с формулой.
	Stale bool `json:"stale"`

	// Categories - подсчёты XP по категориям.
	Categories map[progression.XPCategory]int64 `json:"categories"`

	// UpdatedAt - время последней записи опыта (nil для нового пользователя).
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ExperienceReader - часть репозитория опыта, нужная запросам.
type ExperienceReader interface {
	GetExperience(ctx context.Context, userID string) (*progression.ExperienceRecord, error)
}

// LevelCache - кеш готовых DTO. Промах возвращает (false, nil).
type LevelCache interface {
	GetLevel(ctx context.Context, userID string, dst interface{}) (bool, error)
	SetLevel(ctx context.Context, userID string, view interface{}) error
}

// GetLevelHandler обрабатывает GetLevelQuery.
type GetLevelHandler struct {
	repo   ExperienceReader
	cache  LevelCache
	logger *slog.Logger
}

// NewGetLevelHandler создаёт обработчик. cache может быть nil.
func NewGetLevelHandler(repo ExperienceReader, cache LevelCache, logger *slog.Logger) *GetLevelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLevelHandler{
		repo:   repo,
		cache:  cache,
		logger: logger.With("query", "get_level"),
	}
}

// Handle выполняет запрос.
func (h *GetLevelHandler) Handle(ctx context.Context, q GetLevelQuery) (*LevelDTO, error) {
	if err := validateUserID(q.UserID); err != nil {
		return nil, fmt.Errorf("get_level: %w", err)
	}

	if h.cache != nil && !q.SkipCache {
		var cached LevelDTO
		hit, err := h.cache.GetLevel(ctx, q.UserID, &cached)
		if err != nil {
			h.logger.Warn("level cache read failed", "user_id", q.UserID, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	rec, err := h.repo.GetExperience(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_level: failed to load experience: %w", err)
	}

	dto := BuildLevelDTO(q.UserID, rec)

	if h.cache != nil {
		if err := h.cache.SetLevel(ctx, q.UserID, dto); err != nil {
			h.logger.Warn("level cache write failed", "user_id", q.UserID, "error", err)
		}
	}

	return dto, nil
}

// BuildLevelDTO строит DTO из записи; nil означает нового пользователя.
func BuildLevelDTO(userID string, rec *progression.ExperienceRecord) *LevelDTO {
	if rec == nil {
		rec = &progression.ExperienceRecord{UserID: userID, CurrentLevel: progression.MinLevel}
	}

	dto := &LevelDTO{
		UserID:      userID,
		LevelInfo:   progression.Describe(rec.TotalXP),
		CachedLevel: rec.CurrentLevel,
		Categories:  make(map[progression.XPCategory]int64, 4),
	}
	dto.Stale = dto.CachedLevel != dto.Level
	for _, c := range progression.XPCategories() {
		dto.Categories[c] = rec.CategoryXP(c)
	}
	if !rec.UpdatedAt.IsZero() {
		t := rec.UpdatedAt
		dto.UpdatedAt = &t
	}
	return dto
}

func validateUserID(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return shared.ErrInvalidUserID
	}
	return nil
}
