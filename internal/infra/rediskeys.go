package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentwallet"
)

// Каналы Pub/Sub (события журнала)
const (
	RedisChanEventsPrefix = RedisNamespace + ":events:"
	// RedisChanEventsAll паттерн для PSubscribe на все события
	RedisChanEventsAll = RedisChanEventsPrefix + "*"
)

// EventChannel канал конкретного вида события, например agentwallet:events:escrow.released
func EventChannel(kind string) string {
	return fmt.Sprintf("%s%s", RedisChanEventsPrefix, kind)
}
