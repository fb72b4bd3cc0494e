package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/infra"
	"github.com/xela07ax/pixel-gateway/internal/infra/auth"
)

// ControlService — операторские рычаги пайплайна: рубильник точной
// геолокации и сброс согласия посетителя. Все действия — Redis ключ
// плюс Pub/Sub сигнал, чтобы разъехавшиеся инстансы коллектора
// подхватили изменение мгновенно.
type ControlService struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewControlService(rdb *redis.Client, logger *zap.Logger) *ControlService {
	return &ControlService{
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "control")),
	}
}

// GeoDisabled возвращает текущее положение рубильника
func (s *ControlService) GeoDisabled(ctx context.Context) (bool, error) {
	val, err := s.rdb.Get(ctx, infra.RedisKeyGeoDisabled).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

// DisableGeo выключает точную геолокацию на всех инстансах коллектора.
// Грубая (timezone) локация продолжает работать.
func (s *ControlService) DisableGeo(ctx context.Context) error {
	if err := s.rdb.Set(ctx, infra.RedisKeyGeoDisabled, "1", 0).Err(); err != nil {
		return fmt.Errorf("geo switch persist: %w", err)
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanGeoSwitch, "collect:off").Err(); err != nil {
		s.logger.Warn("geo switch signal failed", zap.Error(err))
	}
	s.logger.Info("precise geolocation disabled", zap.String("operator", auth.UserIDFromContext(ctx)))
	return nil
}

// EnableGeo возвращает точную геолокацию в строй
func (s *ControlService) EnableGeo(ctx context.Context) error {
	if err := s.rdb.Del(ctx, infra.RedisKeyGeoDisabled).Err(); err != nil {
		return fmt.Errorf("geo switch persist: %w", err)
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanGeoSwitch, "collect:on").Err(); err != nil {
		s.logger.Warn("geo switch signal failed", zap.Error(err))
	}
	s.logger.Info("precise geolocation enabled", zap.String("operator", auth.UserIDFromContext(ctx)))
	return nil
}

// ResetConsent возвращает посетителя в UNKNOWN: слоты согласия и очереди
// стираются, коллекторы получают сигнал сбросить локальные таймеры.
func (s *ControlService) ResetConsent(ctx context.Context, visitorID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, infra.ConsentSlotKey(visitorID))
	pipe.Del(ctx, infra.QueueSlotKey(visitorID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("consent reset: %w", err)
	}

	if err := s.rdb.Publish(ctx, infra.RedisChanConsentReset, visitorID+":on").Err(); err != nil {
		s.logger.Warn("consent reset signal failed", zap.Error(err))
	}

	s.logger.Info("consent reset",
		zap.String("visitor_id", visitorID),
		zap.String("operator", auth.UserIDFromContext(ctx)))
	return nil
}
