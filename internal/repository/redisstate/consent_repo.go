package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/domain"
	"github.com/xela07ax/pixel-gateway/internal/infra"
)

// ConsentRepo хранит авторитетную запись согласия посетителя.
// Запись заменяется только целиком — частичных слияний нет.
type ConsentRepo struct {
	rdb       *redis.Client
	logger    *zap.Logger
	recordTTL time.Duration // Практический потолок — год, дальше согласие запрашиваем заново
}

func NewConsentRepo(rdb *redis.Client, recordTTL time.Duration, logger *zap.Logger) *ConsentRepo {
	return &ConsentRepo{
		rdb:       rdb,
		logger:    logger.With(zap.String("mod", "consent_repo")),
		recordTTL: recordTTL,
	}
}

// Load возвращает запись и флаг её наличия. Битые и протухшие данные
// трактуются как отсутствие записи.
func (r *ConsentRepo) Load(ctx context.Context, visitorID string) (domain.ConsentRecord, bool, error) {
	key := infra.ConsentSlotKey(visitorID)

	raw, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.ConsentRecord{}, false, nil
	}
	if err != nil {
		return domain.ConsentRecord{}, false, fmt.Errorf("consent slot read: %w", err)
	}

	var rec domain.ConsentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		r.logger.Warn("corrupted consent slot discarded",
			zap.String("visitor_id", visitorID), zap.Error(err))
		r.rdb.Del(ctx, key)
		return domain.ConsentRecord{}, false, nil
	}

	// Страховка на случай, если Redis пережил запись дольше положенного
	if time.Since(rec.Timestamp) > r.recordTTL {
		r.rdb.Del(ctx, key)
		return domain.ConsentRecord{}, false, nil
	}

	return rec, true, nil
}

func (r *ConsentRepo) Save(ctx context.Context, visitorID string, rec domain.ConsentRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("consent slot marshal: %w", err)
	}
	return r.rdb.Set(ctx, infra.ConsentSlotKey(visitorID), raw, r.recordTTL).Err()
}

func (r *ConsentRepo) Delete(ctx context.Context, visitorID string) error {
	return r.rdb.Del(ctx, infra.ConsentSlotKey(visitorID)).Err()
}
