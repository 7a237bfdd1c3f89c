// Package achievement содержит каталог достижений и чистую логику их оценки.
//
// Оценка строится из трёх частей:
//
//   - UserStatsSnapshot - агрегаты постов и опыта на момент прохода
//   - ConditionKind - перечисление типов условий с таблицей извлекателей
//   - Decide - решение по одному достижению: ничего, прогресс или завершение
//
// Завершённые достижения заморожены: Decide никогда не возвращает запись
// для строки с Completed = true. Неизвестные типы условий дают прогресс 0
// и никогда не записываются.
//
// Прогресс хранится по ключу (userID, achievementID); записи - это
// идемпотентные set-upsert, поэтому параллельные проходы сходятся
// к одному состоянию без блокировок.
package achievement
