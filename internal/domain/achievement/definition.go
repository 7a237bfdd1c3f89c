package achievement

import (
	"encoding/json"
	"strings"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Category - группа достижения в каталоге.
type Category string

const (
	CategoryWriting     Category = "writing"
	CategoryEngagement  Category = "engagement"
	CategoryConsistency Category = "consistency"
	CategoryLearning    Category = "learning"
	CategorySpecial     Category = "special"
)

// IsValid проверяет категорию.
func (c Category) IsValid() bool {
	switch c {
	case CategoryWriting, CategoryEngagement, CategoryConsistency, CategoryLearning, CategorySpecial:
		return true
	}
	return false
}

// Rarity - редкость достижения.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid проверяет редкость.
func (r Rarity) IsValid() bool {
	return r.Rank() > 0
}

// Rank возвращает порядок редкости (common = 1). 0 для неизвестной.
func (r Rarity) Rank() int {
	switch r {
	case RarityCommon:
		return 1
	case RarityRare:
		return 2
	case RarityEpic:
		return 3
	case RarityLegendary:
		return 4
	}
	return 0
}

// Definition - определение достижения из общего каталога.
// Неизменяемо после загрузки; оценщик только читает его.
type Definition struct {
	// ID - стабильный идентификатор (slug имени по умолчанию).
	ID string `json:"id"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`

	Category Category `json:"category"`

	// ConditionType - тип условия в виде строки из каталога.
	// Неизвестные значения хранятся как есть.
	ConditionType string `json:"condition_type"`

	// ConditionValue - порог условия.
	ConditionValue int64 `json:"condition_value"`

	// RewardType и RewardData - описание награды, оценщиком не используются.
	RewardType string          `json:"reward_type,omitempty"`
	RewardData json.RawMessage `json:"reward_data,omitempty"`

	Rarity Rarity `json:"rarity"`
}

// Kind возвращает разобранный тип условия.
func (d Definition) Kind() ConditionKind {
	return ParseConditionKind(d.ConditionType)
}

// Validate проверяет определение перед сидированием каталога.
// Неизвестный ConditionType не считается ошибкой.
func (d Definition) Validate() error {
	var problems []string
	if strings.TrimSpace(d.ID) == "" {
		problems = append(problems, "id is empty")
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if !d.Category.IsValid() {
		problems = append(problems, "unknown category "+string(d.Category))
	}
	if !d.Rarity.IsValid() {
		problems = append(problems, "unknown rarity "+string(d.Rarity))
	}
	if strings.TrimSpace(d.ConditionType) == "" {
		problems = append(problems, "condition_type is empty")
	}
	if d.ConditionValue < 1 {
		problems = append(problems, "condition_value must be positive")
	}
	if len(d.RewardData) > 0 && !json.Valid(d.RewardData) {
		problems = append(problems, "reward_data is not valid JSON")
	}
	if len(problems) > 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			d.ID+": "+strings.Join(problems, "; "), shared.ErrInvalidDefinition)
	}
	return nil
}
