package progression

import (
	"math"
	"time"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP CATEGORIES
// ══════════════════════════════════════════════════════════════════════════════

// XPCategory - категория начисления опыта.
type XPCategory string

const (
	// CategoryWriting - публикации и черновики.
	CategoryWriting XPCategory = "writing"

	// CategoryEngagement - лайки, просмотры, комментарии.
	CategoryEngagement XPCategory = "engagement"

	// CategoryConsistency - регулярность (ежедневные серии).
	CategoryConsistency XPCategory = "consistency"

	// CategoryLearning - чтение чужих постов.
	CategoryLearning XPCategory = "learning"
)

// XPCategories возвращает все известные категории.
func XPCategories() []XPCategory {
	return []XPCategory{CategoryWriting, CategoryEngagement, CategoryConsistency, CategoryLearning}
}

// IsValid проверяет, что категория известна.
func (c XPCategory) IsValid() bool {
	switch c {
	case CategoryWriting, CategoryEngagement, CategoryConsistency, CategoryLearning:
		return true
	}
	return false
}

// ParseXPCategory разбирает строку в категорию.
func ParseXPCategory(s string) (XPCategory, error) {
	c := XPCategory(s)
	if !c.IsValid() {
		return "", shared.ErrInvalidXPCategory
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIENCE RECORD
// ══════════════════════════════════════════════════════════════════════════════

// ExperienceRecord - запись опыта пользователя (одна на пользователя).
// Создаётся лениво при первом начислении XP.
type ExperienceRecord struct {
	// UserID - идентификатор пользователя (UUID).
	UserID string `json:"user_id"`

	// TotalXP - накопленный опыт, не убывает кроме полного сброса.
	TotalXP int64 `json:"total_xp"`

	// CurrentLevel - кешированный уровень.
	CurrentLevel int `json:"current_level"`

	// XPToNextLevel - кешированный остаток до следующего уровня.
	XPToNextLevel int64 `json:"xp_to_next_level"`

	WritingXP     int64 `json:"writing_xp"`
	EngagementXP  int64 `json:"engagement_xp"`
	ConsistencyXP int64 `json:"consistency_xp"`
	LearningXP    int64 `json:"learning_xp"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExperienceRecord создаёт пустую запись уровня 1.
func NewExperienceRecord(userID string, now time.Time) *ExperienceRecord {
	r := &ExperienceRecord{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Refresh()
	return r
}

// Level возвращает канонический уровень, вычисленный из TotalXP.
func (r *ExperienceRecord) Level() int {
	if r == nil {
		return MinLevel
	}
	return LevelFromXP(r.TotalXP)
}

// Stale сообщает, что кешированные поля расходятся с формулой.
func (r *ExperienceRecord) Stale() bool {
	return r.CurrentLevel != LevelFromXP(r.TotalXP) ||
		r.XPToNextLevel != XPToNextLevel(r.TotalXP)
}

// Refresh пересчитывает кешированные поля уровня из TotalXP.
func (r *ExperienceRecord) Refresh() {
	r.CurrentLevel = LevelFromXP(r.TotalXP)
	r.XPToNextLevel = XPToNextLevel(r.TotalXP)
}

// AwardOutcome - результат начисления XP.
type AwardOutcome struct {
	OldLevel int
	NewLevel int
	NewTotal int64
}

// LeveledUp сообщает о повышении уровня.
func (o AwardOutcome) LeveledUp() bool {
	return o.NewLevel > o.OldLevel
}

// Award начисляет amount XP в категории category.
// Сумма добавляется и к TotalXP, и к подсчёту категории.
func (r *ExperienceRecord) Award(category XPCategory, amount int64, now time.Time) (AwardOutcome, error) {
	if !category.IsValid() {
		return AwardOutcome{}, shared.ErrInvalidXPCategory
	}
	if amount <= 0 || r.TotalXP > math.MaxInt64-amount {
		return AwardOutcome{}, shared.ErrInvalidXPAmount
	}

	oldLevel := r.Level()

	r.TotalXP += amount
	switch category {
	case CategoryWriting:
		r.WritingXP += amount
	case CategoryEngagement:
		r.EngagementXP += amount
	case CategoryConsistency:
		r.ConsistencyXP += amount
	case CategoryLearning:
		r.LearningXP += amount
	}
	r.Refresh()
	r.UpdatedAt = now

	return AwardOutcome{
		OldLevel: oldLevel,
		NewLevel: r.CurrentLevel,
		NewTotal: r.TotalXP,
	}, nil
}

// CategoryXP возвращает подсчёт по категории.
func (r *ExperienceRecord) CategoryXP(category XPCategory) int64 {
	switch category {
	case CategoryWriting:
		return r.WritingXP
	case CategoryEngagement:
		return r.EngagementXP
	case CategoryConsistency:
		return r.ConsistencyXP
	case CategoryLearning:
		return r.LearningXP
	}
	return 0
}

// Reset обнуляет весь опыт (административный полный сброс).
func (r *ExperienceRecord) Reset(now time.Time) {
	r.TotalXP = 0
	r.WritingXP = 0
	r.EngagementXP = 0
	r.ConsistencyXP = 0
	r.LearningXP = 0
	r.Refresh()
	r.UpdatedAt = now
}

// Clone возвращает независимую копию записи.
func (r *ExperienceRecord) Clone() *ExperienceRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
