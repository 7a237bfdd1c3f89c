package achievement

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION DISPATCH
// ══════════════════════════════════════════════════════════════════════════════

// ConditionKind - разобранный тип условия достижения.
type ConditionKind int

const (
	// ConditionUnknown - тип, который этот сервис ещё не понимает.
	ConditionUnknown ConditionKind = iota
	ConditionPostsCount
	ConditionTotalLikes
	ConditionTotalViews
	ConditionCategoriesUsed
	ConditionLevelReached

	numConditionKinds
)

// StatExtractor извлекает текущее значение условия из снимка статистики.
type StatExtractor func(UserStatsSnapshot) int64

var conditionNames = [...]string{
	ConditionUnknown:        "unknown",
	ConditionPostsCount:     "posts_count",
	ConditionTotalLikes:     "total_likes",
	ConditionTotalViews:     "total_views",
	ConditionCategoriesUsed: "categories_used",
	ConditionLevelReached:   "level_reached",
}

var extractors = [...]StatExtractor{
	ConditionUnknown:        func(UserStatsSnapshot) int64 { return 0 },
	ConditionPostsCount:     func(s UserStatsSnapshot) int64 { return s.PublishedPostCount },
	ConditionTotalLikes:     func(s UserStatsSnapshot) int64 { return s.TotalLikes },
	ConditionTotalViews:     func(s UserStatsSnapshot) int64 { return s.TotalViews },
	ConditionCategoriesUsed: func(s UserStatsSnapshot) int64 { return s.DistinctCategoryCount },
	ConditionLevelReached:   func(s UserStatsSnapshot) int64 { return int64(s.CurrentLevel) },
}

// Каждый новый ConditionKind обязан получить имя и извлекатель:
// иначе длины таблиц разойдутся с numConditionKinds и пакет не скомпилируется.
var (
	_ [len(conditionNames) - int(numConditionKinds)]struct{}
	_ [int(numConditionKinds) - len(conditionNames)]struct{}
	_ [len(extractors) - int(numConditionKinds)]struct{}
	_ [int(numConditionKinds) - len(extractors)]struct{}
)

var conditionByName = func() map[string]ConditionKind {
	m := make(map[string]ConditionKind, len(conditionNames))
	for k := ConditionPostsCount; k < numConditionKinds; k++ {
		m[conditionNames[k]] = k
	}
	return m
}()

// ParseConditionKind разбирает строку каталога. Неизвестная строка даёт
// ConditionUnknown, а не ошибку: каталог может опережать код.
func ParseConditionKind(s string) ConditionKind {
	if k, ok := conditionByName[s]; ok {
		return k
	}
	return ConditionUnknown
}

// KnownConditionKinds возвращает все распознаваемые типы условий.
func KnownConditionKinds() []ConditionKind {
	kinds := make([]ConditionKind, 0, int(numConditionKinds)-1)
	for k := ConditionPostsCount; k < numConditionKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String возвращает строковое имя типа условия.
func (k ConditionKind) String() string {
	if k < 0 || k >= numConditionKinds {
		return conditionNames[ConditionUnknown]
	}
	return conditionNames[k]
}

// Known сообщает, распознан ли тип.
func (k ConditionKind) Known() bool {
	return k > ConditionUnknown && k < numConditionKinds
}

// Extract вычисляет текущее значение условия для снимка.
func (k ConditionKind) Extract(s UserStatsSnapshot) int64 {
	if !k.Known() {
		return 0
	}
	return extractors[k](s)
}
