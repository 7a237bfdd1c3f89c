// Package progression содержит доменную модель опыта (XP) и уровней автора блога.
//
// Пакет определяет:
//
//   - Калькулятор уровней: квадратичная кривая, уровень L начинается с (L-1)² × 100 XP
//   - ExperienceRecord: запись опыта пользователя с кешированными полями уровня
//   - XPCategory и таблицу правил начисления (XPRule)
//   - Интерфейс хранилища ExperienceRepository (реализации в infrastructure)
//
// # Канонический уровень
//
// Поле CurrentLevel в записи - это кеш. Каноническим считается значение
// LevelFromXP(TotalXP); расхождение исправляется при следующей записи,
// а не возвращается пользователю как ошибка:
//
//	info := progression.Describe(record.TotalXP)
//	if record.Stale() {
//	    record.Refresh()
//	}
//
// # Категории опыта
//
// WritingXP, EngagementXP, ConsistencyXP и LearningXP - информационные
// подсчёты по категориям. Их сумма не обязана совпадать с TotalXP.
package progression
