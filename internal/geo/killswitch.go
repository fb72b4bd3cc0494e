package geo

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/pixel-gateway/internal/infra"
)

// KillSwitch — административный рубильник точной геолокации.
// Состояние держим в памяти для Hot Path, синхронизация — Redis ключ + Pub/Sub.
type KillSwitch struct {
	mu       sync.RWMutex
	disabled bool
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewKillSwitch(rdb *redis.Client, logger *zap.Logger) *KillSwitch {
	return &KillSwitch{
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "geo_switch")),
	}
}

// Init загружает текущее положение рубильника при старте сервиса.
// Недоступный Redis не валит пайплайн: считаем сбор включенным.
func (k *KillSwitch) Init(ctx context.Context) error {
	val, err := k.rdb.Get(ctx, infra.RedisKeyGeoDisabled).Result()
	if err == redis.Nil {
		k.set(false)
		return nil
	}
	if err != nil {
		return err
	}

	k.set(val == "1")
	return nil
}

// StartListener подписывается на сигналы рубильника в реальном времени.
// Формат сообщения: "collect:on" / "collect:off".
func (k *KillSwitch) StartListener(ctx context.Context) {
	infra.ListenStateResilient(ctx, k.rdb, k.logger, infra.RedisChanGeoSwitch,
		func() error { return k.Init(ctx) }, // Переподключение
		func(_ string, collecting bool) {
			k.set(!collecting)
			k.logger.Info("geo kill switch signal", zap.Bool("collecting", collecting))
		},
	)
}

// Disabled — максимально быстрая проверка в Hot Path
func (k *KillSwitch) Disabled() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.disabled
}

func (k *KillSwitch) set(disabled bool) {
	k.mu.Lock()
	k.disabled = disabled
	k.mu.Unlock()
}
