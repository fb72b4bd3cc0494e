package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "devit:pixel"
)

// Ключи слотов (состояние). Все пер-посетительские ключи собираются генераторами ниже.
const (
	RedisKeyGeoDisabled = RedisNamespace + ":geo:disabled" // Рубильник точной геолокации ("1"/нет ключа)
)

// Каналы Pub/Sub (события)
const (
	// RedisChanConsentUpdate — трансляция решений по согласию ("visitor:GRANTED")
	RedisChanConsentUpdate = RedisNamespace + ":consent:update-signal"
	// RedisChanConsentReset — внешний сброс согласия посетителя
	RedisChanConsentReset = RedisNamespace + ":consent:reset-signal"
	// RedisChanGeoSwitch — сигнал рубильника геолокации ("collect:on"/"collect:off")
	RedisChanGeoSwitch = RedisNamespace + ":geo:switch-signal"
)

// QueueSlotKey — единственный слот очереди отложенных событий посетителя
func QueueSlotKey(visitorID string) string {
	return fmt.Sprintf("%s:queue:%s", RedisNamespace, visitorID)
}

// ConsentSlotKey — слот записи согласия посетителя
func ConsentSlotKey(visitorID string) string {
	return fmt.Sprintf("%s:consent:%s", RedisNamespace, visitorID)
}

// SessionSlotKey — слот сессионного контекста посетителя
func SessionSlotKey(visitorID string) string {
	return fmt.Sprintf("%s:session:%s", RedisNamespace, visitorID)
}

// AttributionSlotKey — "последняя известная атрибуция" посетителя
func AttributionSlotKey(visitorID string) string {
	return fmt.Sprintf("%s:attribution:%s", RedisNamespace, visitorID)
}
