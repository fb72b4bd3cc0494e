package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/infra"
	"github.com/xela07ax/pixel-gateway/internal/queue"
)

// Слот живет дольше TTL событий: чистку по возрасту делает сама очередь,
// ключ в Redis лишь страхует от мусора брошенных сессий.
const queueSlotExpiry = 48 * time.Hour

// Индекс посетителей с непустым слотом — нужен фоновой чистке
const queueIndexKey = infra.RedisNamespace + ":queue_index"

// QueueRepo хранит слот очереди отложенных событий посетителя одним JSON-документом.
type QueueRepo struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewQueueRepo(rdb *redis.Client, logger *zap.Logger) *QueueRepo {
	return &QueueRepo{rdb: rdb, logger: logger.With(zap.String("mod", "queue_repo"))}
}

// Load читает слот. Битый JSON стираем целиком и отдаем пустой слот:
// чинить поврежденные данные очереди бессмысленно.
func (r *QueueRepo) Load(ctx context.Context, visitorID string) (queue.Slot, error) {
	key := infra.QueueSlotKey(visitorID)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return queue.NewSlot(), nil
	}
	if err != nil {
		return queue.Slot{}, fmt.Errorf("queue slot read: %w", err)
	}

	var slot queue.Slot
	if err := json.Unmarshal([]byte(raw), &slot); err != nil {
		r.logger.Warn("corrupted queue slot discarded",
			zap.String("visitor_id", visitorID), zap.Error(err))
		r.rdb.Del(ctx, key)
		r.rdb.SRem(ctx, queueIndexKey, visitorID)
		return queue.NewSlot(), nil
	}

	return slot, nil
}

func (r *QueueRepo) Save(ctx context.Context, visitorID string, slot queue.Slot) error {
	raw, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("queue slot marshal: %w", err)
	}

	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, infra.QueueSlotKey(visitorID), raw, queueSlotExpiry)
	pipe.SAdd(ctx, queueIndexKey, visitorID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *QueueRepo) Clear(ctx context.Context, visitorID string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, infra.QueueSlotKey(visitorID))
	pipe.SRem(ctx, queueIndexKey, visitorID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *QueueRepo) ListVisitors(ctx context.Context) ([]string, error) {
	return r.rdb.SMembers(ctx, queueIndexKey).Result()
}
