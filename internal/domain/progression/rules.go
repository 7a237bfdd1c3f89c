package progression

import (
	"sort"

	"github.com/inkquest/inkquest/internal/domain/shared"
)

// XPRule - правило начисления XP за именованное действие.
type XPRule struct {
	Action   string     `toml:"action" json:"action"`
	Category XPCategory `toml:"category" json:"category"`
	Amount   int64      `toml:"amount" json:"amount"`
}

// Стандартные действия блога.
const (
	ActionPostPublished = "post_published"
	ActionLikeReceived  = "like_received"
	ActionDailyStreak   = "daily_streak"
	ActionPostRead      = "post_read"
)

// DefaultXPRules - таблица по умолчанию, если каталог не задаёт свою.
func DefaultXPRules() []XPRule {
	return []XPRule{
		{Action: ActionPostPublished, Category: CategoryWriting, Amount: 50},
		{Action: ActionLikeReceived, Category: CategoryEngagement, Amount: 5},
		{Action: ActionDailyStreak, Category: CategoryConsistency, Amount: 10},
		{Action: ActionPostRead, Category: CategoryLearning, Amount: 2},
	}
}

// RuleBook - индекс правил по действию.
type RuleBook struct {
	rules map[string]XPRule
}

// NewRuleBook строит RuleBook. Правило с неизвестной категорией
// или неположительной суммой отклоняется.
func NewRuleBook(rules []XPRule) (*RuleBook, error) {
	rb := &RuleBook{rules: make(map[string]XPRule, len(rules))}
	for _, r := range rules {
		if !r.Category.IsValid() {
			return nil, shared.WrapError("progression", "NewRuleBook", shared.ErrInvalidInput,
				"rule "+r.Action+" has unknown category", shared.ErrInvalidXPCategory)
		}
		if r.Amount <= 0 {
			return nil, shared.WrapError("progression", "NewRuleBook", shared.ErrInvalidInput,
				"rule "+r.Action+" has non-positive amount", shared.ErrInvalidXPAmount)
		}
		rb.rules[r.Action] = r
	}
	return rb, nil
}

// Resolve возвращает правило для действия.
func (rb *RuleBook) Resolve(action string) (XPRule, error) {
	r, ok := rb.rules[action]
	if !ok {
		return XPRule{}, shared.ErrUnknownXPAction
	}
	return r, nil
}

// Rules возвращает правила, отсортированные по действию.
func (rb *RuleBook) Rules() []XPRule {
	out := make([]XPRule, 0, len(rb.rules))
	for _, r := range rb.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
