package shared

import (
	"encoding/json"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT TYPES
// Значения входят в имена каналов Redis, менять их нельзя.
// ══════════════════════════════════════════════════════════════════════════════

type EventType string

const (
	EventXPAwarded  EventType = "xp.awarded"
	EventLevelUp    EventType = "progression.level_up"
	EventStatsReset EventType = "progression.stats_reset"

	EventAchievementProgressed EventType = "achievement.progressed"
	EventAchievementUnlocked   EventType = "achievement.unlocked"
)

// Event - доменное событие. Полезная нагрузка события - его собственные
// JSON-поля; служебные поля лежат в Meta и в нагрузку не попадают.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
}

// Meta - служебная часть события. Агрегат всегда пользователь.
type Meta struct {
	Type          EventType
	At            time.Time
	UserID        string
	CorrelationID string // request id, если событие вызвано HTTP-запросом
}

func newMeta(t EventType, userID string) Meta {
	return Meta{Type: t, At: time.Now().UTC(), UserID: userID}
}

func (m Meta) EventType() EventType  { return m.Type }
func (m Meta) OccurredAt() time.Time { return m.At }
func (m Meta) AggregateID() string   { return m.UserID }
func (m Meta) correlation() string   { return m.CorrelationID }

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

// XPAwardedEvent - начисление сохранено.
type XPAwardedEvent struct {
	Meta     `json:"-"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
	NewTotal int64  `json:"new_total"`
	Reason   string `json:"reason,omitempty"`
}

func NewXPAwardedEvent(userID, category string, amount, newTotal int64, reason string) XPAwardedEvent {
	return XPAwardedEvent{
		Meta:     newMeta(EventXPAwarded, userID),
		Category: category,
		Amount:   amount,
		NewTotal: newTotal,
		Reason:   reason,
	}
}

// LevelUpEvent - начисление подняло уровень.
type LevelUpEvent struct {
	Meta     `json:"-"`
	OldLevel int   `json:"old_level"`
	NewLevel int   `json:"new_level"`
	TotalXP  int64 `json:"total_xp"`
}

func NewLevelUpEvent(userID string, oldLevel, newLevel int, totalXP int64) LevelUpEvent {
	return LevelUpEvent{
		Meta:     newMeta(EventLevelUp, userID),
		OldLevel: oldLevel,
		NewLevel: newLevel,
		TotalXP:  totalXP,
	}
}

// StatsResetEvent - администратор обнулил статистику.
type StatsResetEvent struct {
	Meta          `json:"-"`
	PreviousXP    int64 `json:"previous_xp"`
	PreviousLevel int   `json:"previous_level"`
}

func NewStatsResetEvent(userID string, previousXP int64, previousLevel int) StatsResetEvent {
	return StatsResetEvent{
		Meta:          newMeta(EventStatsReset, userID),
		PreviousXP:    previousXP,
		PreviousLevel: previousLevel,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementProgressedEvent - незавершённое достижение получило новый прогресс.
type AchievementProgressedEvent struct {
	Meta          `json:"-"`
	AchievementID string `json:"achievement_id"`
	Progress      int64  `json:"progress"`
	Target        int64  `json:"target"`
}

func NewAchievementProgressedEvent(userID, achievementID string, progress, target int64) AchievementProgressedEvent {
	return AchievementProgressedEvent{
		Meta:          newMeta(EventAchievementProgressed, userID),
		AchievementID: achievementID,
		Progress:      progress,
		Target:        target,
	}
}

// AchievementUnlockedEvent - ровно одно на пару (пользователь, достижение),
// в момент записи завершённой строки.
type AchievementUnlockedEvent struct {
	Meta          `json:"-"`
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
	Icon          string `json:"icon"`
	Rarity        string `json:"rarity"`
	RewardType    string `json:"reward_type,omitempty"`
}

func NewAchievementUnlockedEvent(userID, achievementID, name, icon, rarity, rewardType string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		Meta:          newMeta(EventAchievementUnlocked, userID),
		AchievementID: achievementID,
		Name:          name,
		Icon:          icon,
		Rarity:        rarity,
		RewardType:    rewardType,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// EventEnvelope - формат события в pub/sub.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope упаковывает событие под идентификатором id.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if c, ok := event.(interface{ correlation() string }); ok {
		env.CorrelationID = c.correlation()
	}
	return env, nil
}

type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher выбрасывает события.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
