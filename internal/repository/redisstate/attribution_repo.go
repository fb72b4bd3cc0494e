package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/infra"
)

// Сколько храним последнее внешнее касание
const attributionExpiry = 90 * 24 * time.Hour

// AttributionRepo хранит "последнюю известную атрибуцию" посетителя.
// Запись last-write-wins, без слияния.
type AttributionRepo struct {
	rdb *redis.Client
}

func NewAttributionRepo(rdb *redis.Client) *AttributionRepo {
	return &AttributionRepo{rdb: rdb}
}

func (r *AttributionRepo) Load(ctx context.Context, visitorID string) (domain.AttributionRecord, bool, error) {
	raw, err := r.rdb.Get(ctx, infra.AttributionSlotKey(visitorID)).Result()
	if err == redis.Nil {
		return domain.AttributionRecord{}, false, nil
	}
	if err != nil {
		return domain.AttributionRecord{}, false, fmt.Errorf("attribution slot read: %w", err)
	}

	var rec domain.AttributionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// Битую запись выкидываем: следующий внешний визит перезапишет слот
		r.rdb.Del(ctx, infra.AttributionSlotKey(visitorID))
		return domain.AttributionRecord{}, false, nil
	}

	return rec, true, nil
}

func (r *AttributionRepo) Save(ctx context.Context, visitorID string, rec domain.AttributionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("attribution slot marshal: %w", err)
	}
	return r.rdb.Set(ctx, infra.AttributionSlotKey(visitorID), raw, attributionExpiry).Err()
}
