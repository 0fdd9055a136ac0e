package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/agentwallet/internal/infra"
)

// Publisher часть redis.Client, нужная sink'у
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink транслирует события в Pub/Sub: agentwallet:events:<kind>
type RedisSink struct {
	rdb Publisher
}

func NewRedisSink(rdb Publisher) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) WriteBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis sink: marshal %s: %w", e.ID, err)
		}
		if err := s.rdb.Publish(ctx, infra.EventChannel(string(e.Kind)), data).Err(); err != nil {
			return fmt.Errorf("redis sink: publish %s: %w", e.Kind, err)
		}
	}
	return nil
}
